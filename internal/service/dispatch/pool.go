package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 256
)

// ErrPoolClosed — задача отправлена после Shutdown.
var ErrPoolClosed = errors.New("dispatch pool is shut down")

var (
	inflightTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orders_dispatch_inflight_tasks",
		Help: "Current number of dispatched tasks being executed.",
	})
	overflowTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_dispatch_overflow_total",
		Help: "Total number of tasks run on an overflow goroutine because the queue was full.",
	})
	completedTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_dispatch_tasks_total",
		Help: "Total number of finished dispatched tasks grouped by result.",
	}, []string{"result"})
)

// Task — единица работы. Получает контекст, не связанный с вызывающим.
type Task func(ctx context.Context) error

// Options задаёт параметры пула.
type Options struct {
	Logger    *log.Entry
	Workers   int
	QueueSize int
}

// Option настраивает Pool.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithWorkers задаёт число постоянных воркеров.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithQueueSize задаёт ёмкость очереди перед воркерами.
func WithQueueSize(size int) Option {
	return func(opts *Options) {
		opts.QueueSize = size
	}
}

type job struct {
	name string
	task Task
}

// Pool выполняет задачи на ограниченном наборе воркеров и учитывает каждую
// из них до завершения. Submit никогда не блокируется: при полной очереди
// задача уходит в отдельную отслеживаемую горутину.
type Pool struct {
	queue  chan job
	logger *log.Entry

	mu      sync.RWMutex
	closed  bool
	tasks   sync.WaitGroup
	workers sync.WaitGroup
}

// NewPool создаёт пул и сразу запускает воркеры.
func NewPool(options ...Option) *Pool {
	opts := Options{
		Workers:   defaultWorkers,
		QueueSize: defaultQueueSize,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "dispatch-pool")
	}

	p := &Pool{
		queue:  make(chan job, opts.QueueSize),
		logger: logger,
	}
	p.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit ставит задачу в очередь. При переполнении задача выполняется
// в отдельной горутине, вызывающий не ждёт.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.tasks.Add(1)
	j := job{name: name, task: task}
	select {
	case p.queue <- j:
	default:
		overflowTasks.Inc()
		p.logger.WithField("task", name).Warn("очередь диспетчера заполнена, запускаем задачу вне пула")
		go p.run(j)
	}
	return nil
}

// Shutdown прекращает приём задач и ждёт завершения поставленных,
// выполняющихся и overflow-задач, пока не истечёт ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.tasks.Wait()
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("диспетчер остановлен")
		return nil
	case <-ctx.Done():
		p.logger.WithError(ctx.Err()).Warn("диспетчер остановлен с незавершёнными задачами")
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for j := range p.queue {
		p.run(j)
	}
}

// run выполняет задачу изолированно: ошибка и паника только логируются.
func (p *Pool) run(j job) {
	defer p.tasks.Done()

	inflightTasks.Inc()
	defer inflightTasks.Dec()

	logger := p.logger.WithField("task", j.name)
	defer func() {
		if r := recover(); r != nil {
			completedTasks.WithLabelValues("panic").Inc()
			logger.WithFields(log.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("паника в задаче диспетчера")
		}
	}()

	if err := j.task(context.Background()); err != nil {
		completedTasks.WithLabelValues("error").Inc()
		logger.WithError(err).Error("задача диспетчера завершилась с ошибкой")
		return
	}
	completedTasks.WithLabelValues("ok").Inc()
}
