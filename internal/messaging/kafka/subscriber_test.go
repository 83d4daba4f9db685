package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
)

type fakeConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeErr  error

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newFakeConsumerGroup(consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error) *fakeConsumerGroup {
	return &fakeConsumerGroup{consumeFn: consumeFn, errorsCh: make(chan error, 4)}
}

func (f *fakeConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, topics, handler)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeConsumerGroup) Errors() <-chan error { return f.errorsCh }

func (f *fakeConsumerGroup) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.errorsCh)
	})
	return f.closeErr
}

func (f *fakeConsumerGroup) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConsumerGroup) Pause(map[string][]int32)  {}
func (f *fakeConsumerGroup) Resume(map[string][]int32) {}
func (f *fakeConsumerGroup) PauseAll()                 {}
func (f *fakeConsumerGroup) ResumeAll()                {}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (f *fakeSession) Claims() map[string][]int32               { return nil }
func (f *fakeSession) MemberID() string                         { return "member" }
func (f *fakeSession) GenerationID() int32                      { return 1 }
func (f *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (f *fakeSession) Commit()                                  {}
func (f *fakeSession) ResetOffset(string, int32, int64, string) {}
func (f *fakeSession) Context() context.Context                 { return f.ctx }
func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, msg)
}

func (f *fakeSession) markedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string                            { return "" }
func (f *fakeClaim) Partition() int32                         { return 0 }
func (f *fakeClaim) InitialOffset() int64                     { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

// recordingHandler складывает полученные события в каналы.
type recordingHandler struct {
	orders   chan domain.Order
	statuses chan domain.StatusUpdateEvent
	metas    chan MessageMeta
	errs     chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		orders:   make(chan domain.Order, 8),
		statuses: make(chan domain.StatusUpdateEvent, 8),
		metas:    make(chan MessageMeta, 16),
		errs:     make(chan error, 8),
	}
}

func (h *recordingHandler) OrderReceived(_ context.Context, order domain.Order, meta MessageMeta) {
	h.orders <- order
	h.metas <- meta
}

func (h *recordingHandler) StatusUpdateReceived(_ context.Context, event domain.StatusUpdateEvent, meta MessageMeta) {
	h.statuses <- event
	h.metas <- meta
}

func (h *recordingHandler) ConsumerError(err error) {
	h.errs <- err
}

func orderMessage(t *testing.T, order domain.Order) *sarama.ConsumerMessage {
	t.Helper()
	value, err := EncodeOrder(order)
	if err != nil {
		t.Fatalf("encode order: %v", err)
	}
	return &sarama.ConsumerMessage{
		Topic: TopicNewOrders,
		Key:   []byte(order.ID.String()),
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderSource), Value: []byte("orders-api")},
			{Key: []byte(HeaderCreated), Value: []byte("2026-04-01T10:00:00Z")},
		},
	}
}

func statusMessage(t *testing.T, event domain.StatusUpdateEvent) *sarama.ConsumerMessage {
	t.Helper()
	value, err := EncodeStatusUpdate(event)
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: TopicOrderStatus, Key: []byte(event.OrderID.String()), Value: value, Offset: 7}
}

// claimingConsume прогоняет сообщения через ConsumeClaim и ждёт отмены.
func claimingConsume(messages ...*sarama.ConsumerMessage) func(context.Context, []string, sarama.ConsumerGroupHandler) error {
	var once sync.Once
	return func(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
		once.Do(func() {
			claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
			for _, m := range messages {
				claim.messages <- m
			}
			close(claim.messages)
			_ = handler.ConsumeClaim(&fakeSession{ctx: ctx}, claim)
		})
		<-ctx.Done()
		return context.Canceled
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestSubscriber_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	order := domain.Order{ID: uuid.New(), Status: domain.OrderStatusCreated, OrderDate: time.Now().UTC()}
	event := domain.NewStatusUpdateEvent(order.ID, domain.OrderStatusShipped, "", time.Now())

	var groups []*fakeConsumerGroup
	factory := func() (sarama.ConsumerGroup, error) {
		g := newFakeConsumerGroup(claimingConsume(orderMessage(t, order), statusMessage(t, event)))
		groups = append(groups, g)
		return g, nil
	}

	handler := newRecordingHandler()
	sub := NewSubscriber(factory, handler)
	if sub.State() != StateIdle {
		t.Fatalf("expected idle, got %s", sub.State())
	}

	// Stop на Idle-подписчике ничего не делает.
	sub.Stop()
	if sub.State() != StateIdle {
		t.Fatalf("stop on idle must be a no-op, got %s", sub.State())
	}

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sub.Start(context.Background()); !errors.Is(err, ErrSubscriberRunning) {
		t.Fatalf("expected ErrSubscriberRunning, got %v", err)
	}

	gotOrder := waitFor(t, handler.orders)
	if gotOrder.ID != order.ID {
		t.Fatalf("unexpected order %s", gotOrder.ID)
	}
	orderMeta := waitFor(t, handler.metas)
	if orderMeta.Source != "orders-api" || orderMeta.Created.IsZero() || orderMeta.Key != order.ID.String() {
		t.Fatalf("unexpected meta: %+v", orderMeta)
	}

	gotEvent := waitFor(t, handler.statuses)
	if gotEvent.Status != "Shipped" {
		t.Fatalf("unexpected status %q", gotEvent.Status)
	}

	sub.Stop()
	if sub.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", sub.State())
	}
	if !groups[0].isClosed() {
		t.Fatal("consumer group must be closed on loop exit")
	}
	sub.Stop()

	// Перезапуск из Stopped создаёт новую группу.
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	sub.Stop()
	if len(groups) != 2 {
		t.Fatalf("expected a fresh group per start, got %d", len(groups))
	}
}

func TestSubscriber_StartFactoryError(t *testing.T) {
	sub := NewSubscriber(func() (sarama.ConsumerGroup, error) {
		return nil, errors.New("no brokers")
	}, newRecordingHandler())

	if err := sub.Start(context.Background()); err == nil {
		t.Fatal("expected factory error")
	}
	if sub.State() != StateIdle {
		t.Fatalf("state must stay idle, got %s", sub.State())
	}
}

func TestSubscriber_ReportsConsumeAndGroupErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	calls := 0
	var mu sync.Mutex
	group := newFakeConsumerGroup(func(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return errors.New("broker unavailable")
		}
		<-ctx.Done()
		return context.Canceled
	})
	group.errorsCh <- errors.New("heartbeat failed")

	handler := newRecordingHandler()
	sub := NewSubscriber(func() (sarama.ConsumerGroup, error) { return group, nil }, handler)
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	seen := map[string]bool{}
	seen[waitFor(t, handler.errs).Error()] = true
	seen[waitFor(t, handler.errs).Error()] = true
	if !seen["broker unavailable"] || !seen["heartbeat failed"] {
		t.Fatalf("unexpected reported errors: %v", seen)
	}

	sub.Stop()
	select {
	case err := <-handler.errs:
		t.Fatalf("cancellation must end the loop silently, got %v", err)
	default:
	}
}

func TestSubscriber_CloseErrorIsNotReturned(t *testing.T) {
	group := newFakeConsumerGroup(nil)
	group.closeErr = errors.New("close failed")

	sub := NewSubscriber(func() (sarama.ConsumerGroup, error) { return group, nil }, newRecordingHandler())
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sub.Stop()
	if sub.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", sub.State())
	}
}

func TestSubscriber_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	group := newFakeConsumerGroup(nil)

	sub := NewSubscriber(func() (sarama.ConsumerGroup, error) { return group, nil }, newRecordingHandler())
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for sub.State() != StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber did not stop after parent cancel, state %s", sub.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	sub.Stop()
}

func TestConsumeClaim_DropsMalformedAndUnknown(t *testing.T) {
	handler := newRecordingHandler()
	sub := NewSubscriber(nil, handler)

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicNewOrders, Value: []byte("{not json")}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicOrderStatus, Value: []byte("null")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "payments", Value: []byte(`{}`)}
	close(claim.messages)

	if err := sub.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if session.markedCount() != 3 {
		t.Fatalf("every message must be marked, got %d", session.markedCount())
	}
	if len(handler.orders) != 0 || len(handler.statuses) != 0 {
		t.Fatal("malformed or foreign messages must not reach the handler")
	}
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewSubscriber(nil, newRecordingHandler())
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = sub.ConsumeClaim(session, claim)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestSubscriberSetupCleanup(t *testing.T) {
	sub := &Subscriber{}
	if err := sub.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := sub.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestMessageMeta_IgnoresBadCreatedHeader(t *testing.T) {
	meta := messageMeta(&sarama.ConsumerMessage{
		Topic: TopicOrderStatus,
		Headers: []*sarama.RecordHeader{
			nil,
			{Key: []byte(HeaderCreated), Value: []byte("yesterday")},
		},
	})
	if !meta.Created.IsZero() || meta.Source != "" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
