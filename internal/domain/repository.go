package domain

import (
	"context"

	"github.com/google/uuid"
)

// OrderRepository описывает требования к хранилищу заказов.
// Реализации отдают копии заказов; изменения проходят только через Update.
type OrderRepository interface {
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// GetRecent возвращает не более count заказов, самые свежие первыми.
	GetRecent(ctx context.Context, count int) ([]Order, error)
	// Add сохраняет заказ как есть; ErrInvalidOrder для нулевого ID.
	Add(ctx context.Context, order Order) (Order, error)
	// Update полностью заменяет запись; ErrOrderNotFound, если её нет.
	Update(ctx context.Context, order Order) (Order, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
