package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

// DecodeError — полезная нагрузка не разбирается в ожидаемый тип.
// Такие сообщения логируются и пропускаются.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// orderPayload — JSON заказа в топике new-orders (camelCase, статус числом).
type orderPayload struct {
	ID              uuid.UUID          `json:"id"`
	CustomerName    *string            `json:"customerName"`
	CustomerEmail   *string            `json:"customerEmail"`
	OrderDate       wireTime           `json:"orderDate"`
	Status          wireStatus         `json:"status"`
	Items           []orderItemPayload `json:"items"`
	TotalAmount     domain.Money       `json:"totalAmount"`
	ShippingAddress *string            `json:"shippingAddress"`
	TrackingNumber  *string            `json:"trackingNumber"`
	ProcessedDate   *wireTime          `json:"processedDate"`
	ShippedDate     *wireTime          `json:"shippedDate"`
	DeliveredDate   *wireTime          `json:"deliveredDate"`
	Notes           *string            `json:"notes"`
}

type orderItemPayload struct {
	ID          uuid.UUID    `json:"id"`
	OrderID     uuid.UUID    `json:"orderId"`
	ProductID   *string      `json:"productId"`
	ProductName *string      `json:"productName"`
	Quantity    int          `json:"quantity"`
	UnitPrice   domain.Money `json:"unitPrice"`
	// Subtotal только публикуется; при чтении пересчитывается из позиции.
	Subtotal domain.Money `json:"subtotal"`
}

// statusPayload — JSON события в топике order-status.
type statusPayload struct {
	OrderID        uuid.UUID `json:"orderId"`
	Status         *string   `json:"status"`
	LastUpdated    wireTime  `json:"lastUpdated"`
	TrackingNumber *string   `json:"trackingNumber"`
	Notes          *string   `json:"notes"`
}

// EncodeOrder сериализует заказ для топика new-orders.
func EncodeOrder(order domain.Order) ([]byte, error) {
	payload := orderPayload{
		ID:              order.ID,
		CustomerName:    optional(order.CustomerName),
		CustomerEmail:   optional(order.CustomerEmail),
		OrderDate:       wireTime(order.OrderDate),
		Status:          wireStatus(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:     order.TotalAmount,
		ShippingAddress: optional(order.ShippingAddress),
		TrackingNumber:  optional(order.TrackingNumber),
		ProcessedDate:   optionalTime(order.ProcessedDate),
		ShippedDate:     optionalTime(order.ShippedDate),
		DeliveredDate:   optionalTime(order.DeliveredDate),
		Notes:           optional(order.Notes),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			OrderID:     item.OrderID,
			ProductID:   optional(item.ProductID),
			ProductName: optional(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal(),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order %s: %w", order.ID, err)
	}
	return data, nil
}

// DecodeOrder разбирает заказ; имена полей сравниваются без учёта регистра.
func DecodeOrder(data []byte) (domain.Order, error) {
	if isEmptyPayload(data) {
		return domain.Order{}, &DecodeError{Topic: TopicNewOrders, Err: errEmptyPayload}
	}

	var payload orderPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Order{}, &DecodeError{Topic: TopicNewOrders, Err: err}
	}

	order := domain.Order{
		ID:              payload.ID,
		CustomerName:    deref(payload.CustomerName),
		CustomerEmail:   deref(payload.CustomerEmail),
		OrderDate:       time.Time(payload.OrderDate),
		Status:          domain.OrderStatus(payload.Status),
		TotalAmount:     payload.TotalAmount,
		ShippingAddress: deref(payload.ShippingAddress),
		TrackingNumber:  deref(payload.TrackingNumber),
		ProcessedDate:   payload.ProcessedDate.timePtr(),
		ShippedDate:     payload.ShippedDate.timePtr(),
		DeliveredDate:   payload.DeliveredDate.timePtr(),
		Notes:           deref(payload.Notes),
	}
	if len(payload.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(payload.Items))
	}
	for _, item := range payload.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          item.ID,
			OrderID:     item.OrderID,
			ProductID:   deref(item.ProductID),
			ProductName: deref(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return order, nil
}

// EncodeStatusUpdate сериализует событие для топика order-status.
func EncodeStatusUpdate(event domain.StatusUpdateEvent) ([]byte, error) {
	data, err := json.Marshal(statusPayload{
		OrderID:        event.OrderID,
		Status:         optional(event.Status),
		LastUpdated:    wireTime(event.LastUpdated),
		TrackingNumber: optional(event.TrackingNumber),
		Notes:          optional(event.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal status update %s: %w", event.OrderID, err)
	}
	return data, nil
}

// DecodeStatusUpdate разбирает событие смены статуса. Сам статус не
// валидируется: это делает получатель через domain.ParseOrderStatus.
func DecodeStatusUpdate(data []byte) (domain.StatusUpdateEvent, error) {
	if isEmptyPayload(data) {
		return domain.StatusUpdateEvent{}, &DecodeError{Topic: TopicOrderStatus, Err: errEmptyPayload}
	}

	var payload statusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.StatusUpdateEvent{}, &DecodeError{Topic: TopicOrderStatus, Err: err}
	}
	return domain.StatusUpdateEvent{
		OrderID:        payload.OrderID,
		Status:         deref(payload.Status),
		LastUpdated:    time.Time(payload.LastUpdated),
		TrackingNumber: deref(payload.TrackingNumber),
		Notes:          deref(payload.Notes),
	}, nil
}

var errEmptyPayload = errors.New("empty payload")

func isEmptyPayload(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0 || isNull(data)
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// wireStatus пишется порядковым числом, а читается и из числа, и из имени.
type wireStatus domain.OrderStatus

func (s wireStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

func (s *wireStatus) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = wireStatus(status)
	return nil
}

// localLayout — отметка времени без часового пояса; трактуется как UTC.
const localLayout = "2006-01-02T15:04:05.999999999"

// wireTime пишется в RFC 3339 (UTC) и принимает также время без зоны.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(time.RFC3339Nano) + `"`), nil
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	raw, err := strconv.Unquote(string(bytes.TrimSpace(data)))
	if err != nil {
		return fmt.Errorf("timestamp must be a string: %s", data)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		*t = wireTime(parsed.UTC())
		return nil
	}
	parsed, err := time.ParseInLocation(localLayout, raw, time.UTC)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	*t = wireTime(parsed)
	return nil
}

func (t *wireTime) timePtr() *time.Time {
	if t == nil {
		return nil
	}
	v := time.Time(*t)
	return &v
}

func optionalTime(t *time.Time) *wireTime {
	if t == nil {
		return nil
	}
	v := wireTime(*t)
	return &v
}

// optional превращает пустую строку в JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
