package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ограничения на позиции заказа, совпадающие с правилами валидации API.
const (
	MinItemQuantity = 1
	MaxItemQuantity = 100
)

var (
	// MinUnitPrice — минимальная цена за единицу (0.01).
	MinUnitPrice = Money(1)
	// MaxUnitPrice — максимальная цена за единицу (10000.00).
	MaxUnitPrice = Money(1_000_000)
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID uuid.UUID
	// OrderID — обратная ссылка на заказ, позиция им не владеет.
	OrderID     uuid.UUID
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   Money
}

// Subtotal всегда вычисляется заново и нигде не хранится.
func (i OrderItem) Subtotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              uuid.UUID
	CustomerName    string
	CustomerEmail   string
	OrderDate       time.Time
	Status          OrderStatus
	Items           []OrderItem
	TotalAmount     Money
	ShippingAddress string
	// TrackingNumber пустой, пока заказ не отправлен.
	TrackingNumber string
	ProcessedDate  *time.Time
	ShippedDate    *time.Time
	DeliveredDate  *time.Time
	Notes          string
}

// CalculateTotal суммирует quantity * unitPrice по всем позициям.
func CalculateTotal(items []OrderItem) Money {
	var total Money
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// Clone возвращает глубокую копию заказа: хранилище отдаёт наружу только копии.
func (o Order) Clone() Order {
	clone := o
	if o.Items != nil {
		clone.Items = make([]OrderItem, len(o.Items))
		copy(clone.Items, o.Items)
	}
	clone.ProcessedDate = cloneTime(o.ProcessedDate)
	clone.ShippedDate = cloneTime(o.ShippedDate)
	clone.DeliveredDate = cloneTime(o.DeliveredDate)
	return clone
}

// LastUpdated выбирает дату, соответствующую текущему статусу,
// и откатывается к OrderDate, если она не выставлена.
func (o Order) LastUpdated() time.Time {
	var ts *time.Time
	switch o.Status {
	case OrderStatusDelivered:
		ts = o.DeliveredDate
	case OrderStatusShipped:
		ts = o.ShippedDate
	case OrderStatusProcessing:
		ts = o.ProcessedDate
	}
	if ts == nil {
		return o.OrderDate
	}
	return *ts
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
