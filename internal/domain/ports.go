package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventPublisher анонсирует заказы и смену статусов во внешний брокер.
// Методы работают по принципу best-effort: false вместо ошибки.
type EventPublisher interface {
	// SendOrder публикует заказ целиком; пустой topic означает топик новых заказов.
	SendOrder(order Order, topic string) bool
	// SendOrderStatus публикует StatusUpdateEvent для заказа.
	SendOrderStatus(orderID uuid.UUID, status OrderStatus, notes string) bool
}

// StatusCache хранит сериализованные представления статусов заказов.
type StatusCache interface {
	// Get возвращает значение и признак попадания.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent пишет значение, только если ключа нет; true — записано.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// GenerateKey строит ключ в пространстве имён сервиса.
	GenerateKey(operation, key string) string
}
