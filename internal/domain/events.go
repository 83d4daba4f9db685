package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusUpdateEvent — сообщение о смене статуса в топике order-status.
// Переносит только текущий статус и заметки, а не полное состояние заказа.
type StatusUpdateEvent struct {
	OrderID uuid.UUID
	// Status хранится строкой, как на проводе; разбирается через ParseOrderStatus.
	Status         string
	LastUpdated    time.Time
	TrackingNumber string
	Notes          string
}

// NewStatusUpdateEvent создаёт событие со штампом времени в UTC.
func NewStatusUpdateEvent(orderID uuid.UUID, status OrderStatus, notes string, now time.Time) StatusUpdateEvent {
	return StatusUpdateEvent{
		OrderID:     orderID,
		Status:      status.String(),
		LastUpdated: now.UTC(),
		Notes:       notes,
	}
}
