package orders

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

// CreateOrderRequest — тело POST /api/orders.
type CreateOrderRequest struct {
	CustomerName    string             `json:"customerName"`
	CustomerEmail   string             `json:"customerEmail"`
	ShippingAddress string             `json:"shippingAddress"`
	Items           []OrderItemRequest `json:"items"`
	Notes           string             `json:"notes"`
}

// OrderItemRequest — позиция создаваемого заказа.
type OrderItemRequest struct {
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName"`
	Quantity    int          `json:"quantity"`
	UnitPrice   domain.Money `json:"unitPrice"`
}

// Validate проверяет запрос и возвращает все найденные нарушения разом.
func (r CreateOrderRequest) Validate() error {
	var errs []error

	if strings.TrimSpace(r.CustomerName) == "" {
		errs = append(errs, domain.ErrCustomerNameRequired)
	}
	switch email := strings.TrimSpace(r.CustomerEmail); {
	case email == "":
		errs = append(errs, domain.ErrCustomerEmailRequired)
	case !isEmail(email):
		errs = append(errs, domain.ErrCustomerEmailInvalid)
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		errs = append(errs, domain.ErrShippingAddressRequired)
	}
	if len(r.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}

	for idx, item := range r.Items {
		if err := item.validate(); err != nil {
			errs = append(errs, fmt.Errorf("items[%d]: %w", idx, err))
		}
	}

	return errors.Join(errs...)
}

func (i OrderItemRequest) validate() error {
	var errs []error
	if strings.TrimSpace(i.ProductID) == "" {
		errs = append(errs, domain.ErrItemProductIDRequired)
	}
	if strings.TrimSpace(i.ProductName) == "" {
		errs = append(errs, domain.ErrItemProductNameRequired)
	}
	if i.Quantity < domain.MinItemQuantity || i.Quantity > domain.MaxItemQuantity {
		errs = append(errs, domain.ErrItemQuantityInvalid)
	}
	if i.UnitPrice < domain.MinUnitPrice || i.UnitPrice > domain.MaxUnitPrice {
		errs = append(errs, domain.ErrItemPriceInvalid)
	}
	return errors.Join(errs...)
}

// isEmail принимает только голый адрес вида local@domain, без отображаемого имени.
func isEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return false
	}
	return addr.Address == raw && addr.Name == ""
}

// OrderView — представление заказа во внешнем API.
type OrderView struct {
	ID              uuid.UUID       `json:"id"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	OrderDate       time.Time       `json:"orderDate"`
	Status          string          `json:"status"`
	Items           []OrderItemView `json:"items"`
	TotalAmount     domain.Money    `json:"totalAmount"`
	ShippingAddress string          `json:"shippingAddress"`
	TrackingNumber  *string         `json:"trackingNumber"`
	ProcessedDate   *time.Time      `json:"processedDate"`
	ShippedDate     *time.Time      `json:"shippedDate"`
	DeliveredDate   *time.Time      `json:"deliveredDate"`
	Notes           *string         `json:"notes"`
}

type OrderItemView struct {
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName"`
	Quantity    int          `json:"quantity"`
	UnitPrice   domain.Money `json:"unitPrice"`
}

// StatusView — ответ GET /api/orders/{id}/status.
type StatusView struct {
	OrderID        uuid.UUID `json:"orderId"`
	Status         string    `json:"status"`
	LastUpdated    time.Time `json:"lastUpdated"`
	TrackingNumber *string   `json:"trackingNumber"`
	Notes          *string   `json:"notes"`
}

// NewOrderView строит представление заказа; пустые строки отдаются как null.
func NewOrderView(order domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemView{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	return OrderView{
		ID:              order.ID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		OrderDate:       order.OrderDate,
		Status:          order.Status.String(),
		Items:           items,
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.ShippingAddress,
		TrackingNumber:  nullable(order.TrackingNumber),
		ProcessedDate:   order.ProcessedDate,
		ShippedDate:     order.ShippedDate,
		DeliveredDate:   order.DeliveredDate,
		Notes:           nullable(order.Notes),
	}
}

// NewStatusView строит представление статуса заказа.
func NewStatusView(order domain.Order) StatusView {
	return StatusView{
		OrderID:        order.ID,
		Status:         order.Status.String(),
		LastUpdated:    order.LastUpdated(),
		TrackingNumber: nullable(order.TrackingNumber),
		Notes:          nullable(order.Notes),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
