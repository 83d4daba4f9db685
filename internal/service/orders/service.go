package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
	"github.com/vladislavdragonenkov/orders-kafka/internal/metrics"
)

const (
	// DefaultRecentCount применяется HTTP-слоем, если count не передан.
	DefaultRecentCount = 10

	defaultStatusCacheTTL = 5 * time.Minute
	statusCacheOperation  = "order-status"

	// ProcessingNote пишется в заказ, полученный из топика new-orders.
	ProcessingNote = "Order received for processing"
)

// Service координирует хранилище заказов, публикацию событий и кэш статусов.
type Service struct {
	store     domain.OrderRepository
	publisher domain.EventPublisher
	cache     domain.StatusCache
	cacheTTL  time.Duration
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	now       func() time.Time
	locks     *orderLocks
}

// Option настраивает Service.
type Option func(*Service)

// WithPublisher подключает публикацию событий. Без него сервис работает без Kafka.
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithStatusCache включает cache-aside для GetOrderStatus.
func WithStatusCache(cache domain.StatusCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис поверх хранилища заказов.
func NewService(store domain.OrderRepository, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cacheTTL: defaultStatusCacheTTL,
		logger:   log.WithField("component", "order-service"),
		now:      time.Now,
		locks:    newOrderLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder сохраняет новый заказ и анонсирует его в new-orders.
// Ошибка публикации не отменяет создание заказа.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderView, error) {
	defer s.observe("create_order", time.Now())

	order := domain.Order{
		ID:              uuid.New(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		OrderDate:       s.now().UTC(),
		Status:          domain.OrderStatusCreated,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		Items:           make([]domain.OrderItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	order.TotalAmount = domain.CalculateTotal(order.Items)

	saved, err := s.store.Add(ctx, order)
	if err != nil {
		return OrderView{}, fmt.Errorf("add order: %w", err)
	}
	s.metrics.RecordOrderCreated()

	logger := s.logger.WithFields(log.Fields{
		"order_id": saved.ID,
		"customer": saved.CustomerName,
	})
	if s.publisher != nil && !s.publisher.SendOrder(saved, "") {
		s.metrics.RecordPublishFailure("order")
		logger.Warn("заказ сохранён, но не опубликован в kafka")
	}
	logger.Info("заказ создан")

	return NewOrderView(saved), nil
}

// GetOrder возвращает заказ или domain.ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (OrderView, error) {
	defer s.observe("get_order", time.Now())

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	return NewOrderView(order), nil
}

// UpdateOrderStatus применяет переход статуса, сохраняет заказ и публикует
// событие в order-status. Легальность перехода не проверяется.
// Обновления одного заказа выполняются по очереди, поэтому кэш и топик
// получают статусы в порядке записи в хранилище.
func (s *Service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, notes string) (OrderView, error) {
	defer s.observe("update_status", time.Now())

	if !status.Valid() {
		return OrderView{}, fmt.Errorf("%w: %d", domain.ErrInvalidStatus, int(status))
	}

	unlock := s.locks.lock(id)
	defer unlock()

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}

	next := domain.ApplyStatusTransition(current, status, notes, s.now().UTC())
	updated, err := s.store.Update(ctx, next)
	if err != nil {
		return OrderView{}, fmt.Errorf("update order %s: %w", id, err)
	}
	s.metrics.RecordStatusUpdate(updated.Status.String())

	logger := s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"from":     current.Status.String(),
		"to":       updated.Status.String(),
	})
	s.storeStatus(ctx, NewStatusView(updated))
	if s.publisher != nil && !s.publisher.SendOrderStatus(updated.ID, updated.Status, updated.Notes) {
		s.metrics.RecordPublishFailure("status")
		logger.Warn("статус обновлён, но событие не опубликовано")
	}
	logger.Info("статус заказа обновлён")

	return NewOrderView(updated), nil
}

// GetOrderStatus возвращает текущий статус заказа. При подключённом кэше
// сначала читает его; ошибки кэша не прерывают запрос. Прочитанное из
// хранилища кладётся в кэш только если ключа там нет: параллельное
// обновление могло уже записать более новый статус.
func (s *Service) GetOrderStatus(ctx context.Context, id uuid.UUID) (StatusView, error) {
	defer s.observe("get_status", time.Now())

	if view, ok := s.cachedStatus(ctx, id); ok {
		return view, nil
	}

	order, err := s.store.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	view := NewStatusView(order)
	s.fillStatus(ctx, view)
	return view, nil
}

// GetRecentOrders возвращает не более count последних заказов.
func (s *Service) GetRecentOrders(ctx context.Context, count int) ([]OrderView, error) {
	defer s.observe("get_recent", time.Now())

	recent, err := s.store.GetRecent(ctx, count)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(recent))
	for _, order := range recent {
		views = append(views, NewOrderView(order))
	}
	return views, nil
}

func (s *Service) cachedStatus(ctx context.Context, id uuid.UUID) (StatusView, bool) {
	if s.cache == nil {
		return StatusView{}, false
	}
	key := s.cache.GenerateKey(statusCacheOperation, id.String())

	data, found, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.RecordCacheLookup(metrics.CacheError)
		s.logger.WithError(err).WithField("key", key).Warn("кэш статусов недоступен")
		return StatusView{}, false
	case !found:
		s.metrics.RecordCacheLookup(metrics.CacheMiss)
		return StatusView{}, false
	}

	var view StatusView
	if err := json.Unmarshal(data, &view); err != nil {
		s.metrics.RecordCacheLookup(metrics.CacheError)
		s.logger.WithError(err).WithField("key", key).Warn("повреждённая запись в кэше статусов")
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("не удалось удалить запись из кэша")
		}
		return StatusView{}, false
	}
	s.metrics.RecordCacheLookup(metrics.CacheHit)
	return view, true
}

// storeStatus записывает статус после обновления. Если записать не вышло,
// ключ удаляется, чтобы чтение не вернуло прежний статус.
func (s *Service) storeStatus(ctx context.Context, view StatusView) {
	if s.cache == nil {
		return
	}
	key := s.cache.GenerateKey(statusCacheOperation, view.OrderID.String())

	data, err := json.Marshal(view)
	if err == nil {
		err = s.cache.Set(ctx, key, data, s.cacheTTL)
	}
	if err == nil {
		return
	}
	s.logger.WithError(err).WithField("key", key).Warn("не удалось записать статус в кэш")
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("в кэше может остаться устаревший статус")
	}
}

// fillStatus заполняет кэш после промаха, не перетирая существующее значение.
func (s *Service) fillStatus(ctx context.Context, view StatusView) {
	if s.cache == nil {
		return
	}
	key := s.cache.GenerateKey(statusCacheOperation, view.OrderID.String())

	data, err := json.Marshal(view)
	if err != nil {
		s.logger.WithError(err).Warn("не удалось сериализовать статус для кэша")
		return
	}
	if _, err := s.cache.SetIfAbsent(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("не удалось записать статус в кэш")
	}
}

func (s *Service) observe(operation string, started time.Time) {
	s.metrics.RecordOperationDuration(operation, time.Since(started))
}
