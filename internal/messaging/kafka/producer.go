package kafka

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

const defaultFlushTimeout = 10 * time.Second

var (
	// ErrFlushTimeout — за отведённое время не все отправки завершились.
	ErrFlushTimeout = errors.New("kafka producer flush timed out")
	// ErrProducerClosed — публикация после Close.
	ErrProducerClosed = errors.New("kafka producer is closed")
)

var publishedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "orders_kafka_published_messages_total",
		Help: "Total number of messages published to Kafka by topic and result",
	},
	[]string{"topic", "result"},
)

// PublishError — брокер не подтвердил доставку сообщения.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s (key %s): %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// DeliveryReceipt — подтверждение записи сообщения брокером.
type DeliveryReceipt struct {
	Topic     string
	Key       string
	Partition int32
	Offset    int64
}

// ProducerConfig задаёт параметры подключения producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// Source попадает в заголовок source каждого сообщения.
	Source       string
	FlushTimeout time.Duration
}

// Producer публикует заказы и события статусов через sarama.SyncProducer.
type Producer struct {
	producer     sarama.SyncProducer
	source       string
	flushTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
	closed   bool
}

// NewProducer создаёт синхронный producer с подтверждением от всех реплик.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = time.Second
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, cfg), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer (например, mocks.SyncProducer).
func NewProducerFromSync(producer sarama.SyncProducer, cfg ProducerConfig) *Producer {
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	idle := make(chan struct{})
	close(idle)

	return &Producer{
		producer:     producer,
		source:       source,
		flushTimeout: flushTimeout,
		logger:       log.WithField("component", "kafka-producer"),
		now:          time.Now,
		idle:         idle,
	}
}

// Publish отправляет сообщение и ждёт подтверждения. Повторов нет:
// ошибка транспорта возвращается как *PublishError.
func (p *Producer) Publish(topic, key string, payload []byte) (DeliveryReceipt, error) {
	if err := p.begin(); err != nil {
		return DeliveryReceipt{}, &PublishError{Topic: topic, Key: key, Err: err}
	}
	defer p.done()

	created := p.now().UTC()
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: created,
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderSource), Value: []byte(p.source)},
			{Key: []byte(HeaderCreated), Value: []byte(created.Format(time.RFC3339Nano))},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		publishedMessages.WithLabelValues(topic, "error").Inc()
		return DeliveryReceipt{}, &PublishError{Topic: topic, Key: key, Err: err}
	}
	publishedMessages.WithLabelValues(topic, "success").Inc()

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message delivered to kafka")

	return DeliveryReceipt{Topic: topic, Key: key, Partition: partition, Offset: offset}, nil
}

// SendOrder публикует заказ целиком. Пустой topic означает new-orders.
func (p *Producer) SendOrder(order domain.Order, topic string) bool {
	if topic == "" {
		topic = TopicNewOrders
	}
	logger := p.logger.WithFields(log.Fields{"topic": topic, "order_id": order.ID})

	payload, err := EncodeOrder(order)
	if err != nil {
		logger.WithError(err).Error("не удалось сериализовать заказ")
		return false
	}
	if _, err := p.Publish(topic, order.ID.String(), payload); err != nil {
		logger.WithError(err).Error("не удалось опубликовать заказ")
		return false
	}
	return true
}

// SendOrderStatus публикует событие смены статуса в order-status.
func (p *Producer) SendOrderStatus(orderID uuid.UUID, status domain.OrderStatus, notes string) bool {
	logger := p.logger.WithFields(log.Fields{
		"topic":    TopicOrderStatus,
		"order_id": orderID,
		"status":   status.String(),
	})

	payload, err := EncodeStatusUpdate(domain.NewStatusUpdateEvent(orderID, status, notes, p.now()))
	if err != nil {
		logger.WithError(err).Error("не удалось сериализовать событие статуса")
		return false
	}
	if _, err := p.Publish(TopicOrderStatus, orderID.String(), payload); err != nil {
		logger.WithError(err).Error("не удалось опубликовать событие статуса")
		return false
	}
	return true
}

// Flush ждёт завершения всех начатых отправок.
func (p *Producer) Flush(timeout time.Duration) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		return ErrFlushTimeout
	}
}

// Close дожидается отправок и закрывает sarama producer. Повторный вызов ничего не делает.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.Flush(p.flushTimeout); err != nil {
		p.logger.WithError(err).Warn("закрываем producer с незавершёнными отправками")
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	p.logger.Info("kafka producer закрыт")
	return nil
}

func (p *Producer) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProducerClosed
	}
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
	return nil
}

func (p *Producer) done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
	}
}

var _ domain.EventPublisher = (*Producer)(nil)
