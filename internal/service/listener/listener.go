package listener

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/dispatch"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/orders"
)

// StatusUpdater — часть сервиса заказов, нужная слушателю.
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, notes string) (orders.OrderView, error)
}

// Submitter ставит задачу в очередь фонового выполнения.
type Submitter interface {
	Submit(name string, task dispatch.Task) error
}

// Config задаёт поведение слушателя.
type Config struct {
	// Source — метка этого сервиса в заголовке source.
	Source string
	// SkipOwnStatusEvents отбрасывает события order-status, опубликованные
	// этим же сервисом, иначе каждое обновление возвращается к нам эхом.
	// Совпадение проверяется только по Source: реплики с общим KAFKA_SOURCE
	// не применяют события друг друга. Если репликам нужны чужие события,
	// задайте каждой свой KAFKA_SOURCE.
	SkipOwnStatusEvents bool
}

// Listener переводит события из Kafka в вызовы сервиса заказов.
// Каждое событие обрабатывается отдельной задачей пула.
type Listener struct {
	updater StatusUpdater
	pool    Submitter
	cfg     Config
	logger  *log.Entry
}

// New создаёт слушателя. Пустой Source заменяется kafka.DefaultSource.
func New(updater StatusUpdater, pool Submitter, cfg Config, logger *log.Entry) *Listener {
	if cfg.Source == "" {
		cfg.Source = kafka.DefaultSource
	}
	if logger == nil {
		logger = log.WithField("component", "order-listener")
	}
	return &Listener{
		updater: updater,
		pool:    pool,
		cfg:     cfg,
		logger:  logger,
	}
}

// OrderReceived переводит новый заказ в Processing.
func (l *Listener) OrderReceived(_ context.Context, order domain.Order, meta kafka.MessageMeta) {
	l.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"partition": meta.Partition,
		"offset":    meta.Offset,
	}).Info("получен новый заказ")

	l.submit("order-received", order.ID, domain.OrderStatusProcessing, orders.ProcessingNote)
}

// StatusUpdateReceived применяет статус из события order-status.
func (l *Listener) StatusUpdateReceived(_ context.Context, event domain.StatusUpdateEvent, meta kafka.MessageMeta) {
	logger := l.logger.WithFields(log.Fields{
		"order_id": event.OrderID,
		"status":   event.Status,
		"source":   meta.Source,
	})

	if l.cfg.SkipOwnStatusEvents && meta.Source == l.cfg.Source {
		logger.Debug("пропускаем собственное событие статуса")
		return
	}

	status, err := domain.ParseOrderStatus(event.Status)
	if err != nil {
		logger.WithError(err).Warn("неизвестный статус в событии, пропускаем")
		return
	}

	logger.Info("получено обновление статуса")
	l.submit("status-update", event.OrderID, status, event.Notes)
}

// ConsumerError только логирует: цикл чтения продолжает работу сам.
func (l *Listener) ConsumerError(err error) {
	l.logger.WithError(err).Error("ошибка чтения из kafka")
}

func (l *Listener) submit(name string, orderID uuid.UUID, status domain.OrderStatus, notes string) {
	task := func(ctx context.Context) error {
		if _, err := l.updater.UpdateOrderStatus(ctx, orderID, status, notes); err != nil {
			return fmt.Errorf("update order %s to %s: %w", orderID, status, err)
		}
		return nil
	}

	if err := l.pool.Submit(name, task); err != nil {
		l.logger.WithError(err).WithField("order_id", orderID).Warn("задача не принята, событие потеряно")
	}
}

var _ kafka.EventHandler = (*Listener)(nil)
