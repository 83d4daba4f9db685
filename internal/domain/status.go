package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderStatus описывает жизненный цикл заказа.
// Порядковые значения входят в wire-формат топика new-orders и не должны меняться.
type OrderStatus int

const (
	OrderStatusCreated OrderStatus = iota
	OrderStatusProcessing
	OrderStatusShipped
	OrderStatusDelivered
	OrderStatusCancelled
	OrderStatusFailed
)

var orderStatusNames = [...]string{
	OrderStatusCreated:    "Created",
	OrderStatusProcessing: "Processing",
	OrderStatusShipped:    "Shipped",
	OrderStatusDelivered:  "Delivered",
	OrderStatusCancelled:  "Cancelled",
	OrderStatusFailed:     "Failed",
}

// AllOrderStatuses возвращает статусы в порядке их порядковых значений.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusCreated,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusFailed,
	}
}

// Valid сообщает, входит ли значение в закрытое перечисление.
func (s OrderStatus) Valid() bool {
	return s >= OrderStatusCreated && s <= OrderStatusFailed
}

func (s OrderStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("OrderStatus(%d)", int(s))
	}
	return orderStatusNames[s]
}

// ParseOrderStatus разбирает имя статуса без учёта регистра.
// Допускается и числовая форма ("2"), как у порядковых значений на проводе.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidStatus)
	}
	for _, status := range AllOrderStatuses() {
		if strings.EqualFold(value, orderStatusNames[status]) {
			return status, nil
		}
	}
	if n, err := strconv.Atoi(value); err == nil {
		if status := OrderStatus(n); status.Valid() {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}
