package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

// ErrSubscriberRunning — Start вызван у уже работающего подписчика.
var ErrSubscriberRunning = errors.New("kafka subscriber is already running")

var (
	consumedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_kafka_consumed_messages_total",
			Help: "Total number of consumed Kafka messages by topic and result",
		},
		[]string{"topic", "result"},
	)
	consumerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_kafka_consumer_errors_total",
		Help: "Total number of Kafka consumer transport errors",
	})
)

// SubscriberState — фаза жизненного цикла подписчика.
type SubscriberState int32

const (
	StateIdle SubscriberState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s SubscriberState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SubscriberState(%d)", int32(s))
	}
}

// MessageMeta — транспортные атрибуты сообщения, которые получают обработчики.
type MessageMeta struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	// Source и Created берутся из заголовков; пустые, если заголовков нет.
	Source  string
	Created time.Time
}

// EventHandler получает разобранные события. Вызовы идут из цикла чтения,
// поэтому реализация не должна блокироваться надолго.
type EventHandler interface {
	OrderReceived(ctx context.Context, order domain.Order, meta MessageMeta)
	StatusUpdateReceived(ctx context.Context, event domain.StatusUpdateEvent, meta MessageMeta)
	ConsumerError(err error)
}

// GroupFactory создаёт новую consumer group для каждого запуска.
type GroupFactory func() (sarama.ConsumerGroup, error)

// NewGroupFactory возвращает фабрику consumer group с round-robin балансировкой.
func NewGroupFactory(brokers []string, groupID, clientID string) GroupFactory {
	return func() (sarama.ConsumerGroup, error) {
		config := sarama.NewConfig()
		if clientID != "" {
			config.ClientID = clientID
		}
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
		config.Consumer.Offsets.AutoCommit.Enable = true
		config.Consumer.Return.Errors = true

		group, err := sarama.NewConsumerGroup(brokers, groupID, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
		}
		return group, nil
	}
}

// Subscriber читает new-orders и order-status и передаёт события в EventHandler.
type Subscriber struct {
	factory GroupFactory
	topics  []string
	handler EventHandler
	logger  *log.Entry

	mu     sync.Mutex
	state  SubscriberState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber создаёт подписчика в состоянии Idle.
func NewSubscriber(factory GroupFactory, handler EventHandler) *Subscriber {
	return &Subscriber{
		factory: factory,
		topics:  SubscribedTopics(),
		handler: handler,
		logger:  log.WithField("component", "kafka-subscriber"),
		state:   StateIdle,
	}
}

// State возвращает текущую фазу.
func (s *Subscriber) State() SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start создаёт consumer group и запускает цикл чтения в фоне.
// Допустим только из Idle или Stopped.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning || s.state == StateDraining {
		return ErrSubscriberRunning
	}

	group, err := s.factory()
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = StateRunning

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for err := range group.Errors() {
			s.reportError(err)
		}
	}()

	go func() {
		defer close(done)
		s.run(loopCtx, group)

		if err := group.Close(); err != nil {
			s.logger.WithError(err).Warn("не удалось закрыть consumer group")
		}
		drained.Wait()
		cancel()

		s.mu.Lock()
		if s.done == done {
			s.state = StateStopped
		}
		s.mu.Unlock()
		s.logger.Info("kafka subscriber остановлен")
	}()

	s.logger.WithField("topics", s.topics).Info("kafka subscriber запущен")
	return nil
}

// Stop отменяет цикл и ждёт его завершения. Повторный вызов ничего не делает.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		done := s.done
		s.mu.Unlock()
		// Draining: Stop уже идёт в другой горутине, просто дожидаемся.
		if done != nil {
			<-done
		}
		return
	}
	s.state = StateDraining
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	if s.done == done {
		s.state = StateStopped
	}
	s.mu.Unlock()
}

// run повторно входит в Consume после каждой ребалансировки до отмены контекста.
func (s *Subscriber) run(ctx context.Context, group sarama.ConsumerGroup) {
	for {
		err := group.Consume(ctx, s.topics, s)
		if err != nil {
			switch {
			case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup)):
				return
			case errors.Is(err, sarama.ErrClosedConsumerGroup):
				s.reportError(err)
				return
			default:
				s.reportError(err)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Subscriber) reportError(err error) {
	consumerErrors.Inc()
	s.logger.WithError(err).Error("ошибка kafka consumer")
	if s.handler != nil {
		s.handler.ConsumerError(err)
	}
}

// Setup вызывается при старте сессии consumer group.
func (s *Subscriber) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении сессии consumer group.
func (s *Subscriber) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim читает сообщения партиции; каждое сообщение помечается,
// даже если его не удалось разобрать.
func (s *Subscriber) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			s.dispatch(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, message *sarama.ConsumerMessage) {
	meta := messageMeta(message)
	logger := s.logger.WithFields(log.Fields{
		"topic":     meta.Topic,
		"partition": meta.Partition,
		"offset":    meta.Offset,
	})

	switch message.Topic {
	case TopicNewOrders:
		order, err := DecodeOrder(message.Value)
		if err != nil {
			consumedMessages.WithLabelValues(message.Topic, "decode_error").Inc()
			logger.WithError(err).Warn("пропускаем нечитаемый заказ")
			return
		}
		consumedMessages.WithLabelValues(message.Topic, "dispatched").Inc()
		s.handler.OrderReceived(ctx, order, meta)

	case TopicOrderStatus:
		event, err := DecodeStatusUpdate(message.Value)
		if err != nil {
			consumedMessages.WithLabelValues(message.Topic, "decode_error").Inc()
			logger.WithError(err).Warn("пропускаем нечитаемое событие статуса")
			return
		}
		consumedMessages.WithLabelValues(message.Topic, "dispatched").Inc()
		s.handler.StatusUpdateReceived(ctx, event, meta)

	default:
		consumedMessages.WithLabelValues(message.Topic, "ignored").Inc()
		logger.Warn("сообщение из неизвестного топика проигнорировано")
	}
}

func messageMeta(message *sarama.ConsumerMessage) MessageMeta {
	meta := MessageMeta{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       string(message.Key),
	}
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case HeaderSource:
			meta.Source = string(h.Value)
		case HeaderCreated:
			if created, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				meta.Created = created
			}
		}
	}
	return meta
}
