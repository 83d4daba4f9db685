package kafka

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

func TestDecodeOrder_CaseInsensitiveFields(t *testing.T) {
	id := uuid.New()
	payload := `{
		"ID": "` + id.String() + `",
		"CustomerName": "Ada",
		"customeremail": "ada@example.com",
		"OrderDate": "2026-04-01T10:00:00.1234567Z",
		"Status": 1,
		"Items": [{"ProductId": "p1", "ProductName": "Pen", "Quantity": 3, "UnitPrice": 2.50, "Subtotal": 7.50}],
		"TotalAmount": 7.50,
		"TrackingNumber": null,
		"ProcessedDate": "2026-04-01T11:00:00"
	}`

	order, err := DecodeOrder([]byte(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if order.ID != id || order.CustomerName != "Ada" || order.CustomerEmail != "ada@example.com" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected Processing, got %s", order.Status)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPrice != 250 || order.Items[0].Subtotal() != 750 {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
	if order.TrackingNumber != "" {
		t.Fatalf("null tracking number must decode as empty, got %q", order.TrackingNumber)
	}
	if order.ProcessedDate == nil || order.ProcessedDate.Location() != time.UTC || order.ProcessedDate.Hour() != 11 {
		t.Fatalf("zone-less timestamp must be read as UTC, got %v", order.ProcessedDate)
	}
}

func TestDecodeOrder_StatusByName(t *testing.T) {
	order, err := DecodeOrder([]byte(`{"id":"` + uuid.NewString() + `","status":"delivered"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected Delivered, got %s", order.Status)
	}
}

func TestDecodeOrder_ExponentAmounts(t *testing.T) {
	payload := `{"id":"` + uuid.NewString() + `","status":0,
		"items":[{"productId":"p1","productName":"Pen","quantity":2,"unitPrice":1e2}],
		"totalAmount":2E2}`

	order, err := DecodeOrder([]byte(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if order.TotalAmount != 20000 || len(order.Items) != 1 || order.Items[0].UnitPrice != 10000 {
		t.Fatalf("unexpected amounts: total=%s items=%+v", order.TotalAmount, order.Items)
	}
}

func TestDecodeOrder_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"null":           "null",
		"broken json":    "{",
		"unknown status": `{"status": 42}`,
		"bad money":      `{"totalAmount": 1.005}`,
		"bad timestamp":  `{"orderDate": "tomorrow"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOrder([]byte(payload))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decodeErr.Topic != TopicNewOrders {
				t.Fatalf("unexpected topic %q", decodeErr.Topic)
			}
		})
	}
}

func TestEncodeOrder_RoundTrip(t *testing.T) {
	shipped := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:              uuid.New(),
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		OrderDate:       time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Status:          domain.OrderStatusShipped,
		TotalAmount:     1000,
		ShippingAddress: "1 Main St",
		TrackingNumber:  "TRK-0000001",
		ShippedDate:     &shipped,
	}
	order.Items = []domain.OrderItem{{ID: uuid.New(), OrderID: order.ID, ProductID: "p", ProductName: "Book", Quantity: 2, UnitPrice: 500}}

	data, err := EncodeOrder(order)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for _, fragment := range []string{`"status":2`, `"totalAmount":10.00`, `"subtotal":10.00`, `"notes":null`, `"processedDate":null`} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("expected %s in %s", fragment, data)
		}
	}

	decoded, err := DecodeOrder(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.TotalAmount != order.TotalAmount || decoded.TrackingNumber != order.TrackingNumber {
		t.Fatalf("unexpected decoded order: %+v", decoded)
	}
	if decoded.ShippedDate == nil || !decoded.ShippedDate.Equal(shipped) || decoded.ProcessedDate != nil {
		t.Fatalf("unexpected dates: %+v", decoded)
	}
}

func TestDecodeStatusUpdate(t *testing.T) {
	id := uuid.New()
	event, err := DecodeStatusUpdate([]byte(`{"OrderId":"` + id.String() + `","Status":"shipped","LastUpdated":"2026-04-01T10:00:00Z","TrackingNumber":"TRK-1234567"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.OrderID != id || event.Status != "shipped" || event.TrackingNumber != "TRK-1234567" || event.Notes != "" {
		t.Fatalf("unexpected event: %+v", event)
	}

	if _, err := DecodeStatusUpdate([]byte(`[]`)); err == nil {
		t.Fatal("expected error for array payload")
	}
}
