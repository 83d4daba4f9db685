package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

// orderRepositoryInMemory хранит заказы в срезе под одним мьютексом.
// Блокировка держится всю операцию, включая копирование.
type orderRepositoryInMemory struct {
	mu     sync.Mutex
	orders []domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{}
}

func (r *orderRepositoryInMemory) Get(_ context.Context, id uuid.UUID) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.orders[idx].Clone(), nil
}

// GetRecent возвращает не более count заказов по убыванию даты создания.
func (r *orderRepositoryInMemory) GetRecent(_ context.Context, count int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count <= 0 {
		return []domain.Order{}, nil
	}

	sorted := make([]domain.Order, len(r.orders))
	copy(sorted, r.orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderDate.After(sorted[j].OrderDate)
	})
	if len(sorted) > count {
		sorted = sorted[:count]
	}

	result := make([]domain.Order, 0, len(sorted))
	for _, order := range sorted {
		result = append(result, order.Clone())
	}
	return result, nil
}

// Add сохраняет заказ без присвоения значений по умолчанию.
func (r *orderRepositoryInMemory) Add(_ context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == uuid.Nil {
		return domain.Order{}, domain.ErrInvalidOrder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(order.ID) >= 0 {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	r.orders = append(r.orders, order.Clone())
	return order.Clone(), nil
}

// Update удаляет старую запись и добавляет новую в конец среза.
func (r *orderRepositoryInMemory) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == uuid.Nil {
		return domain.Order{}, domain.ErrInvalidOrder
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(order.ID)
	if idx < 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	r.orders = append(r.orders[:idx], r.orders[idx+1:]...)
	r.orders = append(r.orders, order.Clone())
	return order.Clone(), nil
}

func (r *orderRepositoryInMemory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.indexOf(id) >= 0, nil
}

func (r *orderRepositoryInMemory) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return false, nil
	}
	r.orders = append(r.orders[:idx], r.orders[idx+1:]...)
	return true, nil
}

// indexOf выполняет линейный поиск; вызывается под r.mu.
func (r *orderRepositoryInMemory) indexOf(id uuid.UUID) int {
	for i := range r.orders {
		if r.orders[i].ID == id {
			return i
		}
	}
	return -1
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
