package domain

import (
	"fmt"
	"time"
)

// ApplyStatusTransition вычисляет новое состояние заказа при смене статуса.
// Функция чистая: исходный заказ не меняется, время передаётся явно.
// Легальность перехода не проверяется, Delivered → Created тоже допустим.
func ApplyStatusTransition(order Order, status OrderStatus, notes string, now time.Time) Order {
	next := order.Clone()
	next.Status = status
	if notes != "" {
		next.Notes = notes
	}

	switch status {
	case OrderStatusProcessing:
		next.ProcessedDate = &now
	case OrderStatusShipped:
		next.ShippedDate = &now
		if next.TrackingNumber == "" {
			next.TrackingNumber = TrackingNumberAt(now)
		}
	case OrderStatusDelivered:
		next.DeliveredDate = &now
	}

	return next
}

// TrackingNumberAt строит номер отслеживания из младших семи цифр
// счётчика 100-наносекундных тиков момента t.
func TrackingNumberAt(t time.Time) string {
	// Секунды кратны 10^7 тиков, поэтому младшие семь цифр определяются
	// только дробной частью секунды.
	return fmt.Sprintf("TRK-%07d", t.Nanosecond()/100)
}
