package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	// KafkaBrokers — список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers  string
	KafkaGroupID  string
	KafkaClientID string
	// KafkaSource попадает в заголовок source исходящих сообщений.
	KafkaSource string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// Пустой RedisAddr выключает кэш статусов.
	RedisAddr      string
	StatusCacheTTL time.Duration

	DispatchWorkers   int
	DispatchQueueSize int

	ShutdownTimeout time.Duration
	// SkipOwnStatusEvents отбрасывает входящие order-status с заголовком
	// source, равным KafkaSource. Реплики с одинаковым KafkaSource при этом
	// не видят обновлений друг друга.
	SkipOwnStatusEvents bool
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		KafkaGroupID:        "orders-api",
		KafkaClientID:       "orders-api",
		KafkaSource:         kafka.DefaultSource,
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		StatusCacheTTL:      5 * time.Minute,
		DispatchWorkers:     8,
		DispatchQueueSize:   256,
		ShutdownTimeout:     10 * time.Second,
		SkipOwnStatusEvents: true,
	}
}

// Validate отклоняет заведомо нерабочие комбинации настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage driver requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("dispatch workers must be > 0"))
	}
	if c.DispatchQueueSize < 0 {
		errs = append(errs, errors.New("dispatch queue size must be >= 0"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be > 0"))
	}
	if c.KafkaEnabled() && strings.TrimSpace(c.KafkaGroupID) == "" {
		errs = append(errs, errors.New("kafka group id is required when kafka is enabled"))
	}

	return errors.Join(errs...)
}

// KafkaEnabled сообщает, заданы ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.Brokers()) > 0
}

// Brokers разбирает KafkaBrokers, отбрасывая пробелы и пустые элементы.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
