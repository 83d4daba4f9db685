package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/cache"
	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-kafka/internal/health"
	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-kafka/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders-kafka/internal/storage/postgres"
)

const statusCacheNamespace = "orders-api"

// runtimeDependencies — хранилище и его проверка готовности.
type runtimeDependencies struct {
	repo           domain.OrderRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies открывает хранилище, выбранное в конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Info("используем in-memory хранилище заказов")
		return &runtimeDependencies{
			repo: memory.NewOrderRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage driver requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			if state, err := store.State(ctx); err == nil {
				logger.WithFields(log.Fields{
					"version": state.Version,
					"applied": state.Applied,
				}).Info("схема postgres актуальна")
			}
		}
		logger.Info("используем postgres хранилище заказов")
		return &runtimeDependencies{
			repo:           postgres.NewOrderRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initStatusCache подключает Redis, если задан адрес. Недоступный Redis
// не мешает старту: кэш переживает временные сбои сам.
func initStatusCache(ctx context.Context, cfg Config, logger *log.Entry) *cache.RedisCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	statusCache := cache.NewRedisCache(cfg.RedisAddr, statusCacheNamespace)
	if err := statusCache.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis недоступен при старте, кэш статусов будет пропускаться")
	} else {
		logger.WithField("addr", cfg.RedisAddr).Info("кэш статусов подключён")
	}
	return statusCache
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil, если Kafka выключена.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      brokers,
		ClientID:     cfg.KafkaClientID,
		Source:       cfg.KafkaSource,
		FlushTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
