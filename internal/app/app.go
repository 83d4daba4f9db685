package app

import (
	"context"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/orders-kafka/internal/health"
	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-kafka/internal/metrics"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/dispatch"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/listener"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/orders"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/rest"
	"github.com/vladislavdragonenkov/orders-kafka/internal/version"
)

// Run поднимает сервис заказов и блокируется до отмены ctx или падения
// одного из серверов. При отмене возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := log.WithField("component", "app")
	logger.WithField("build", version.String()).Info("инициализируем сервис заказов")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	orderMetrics := metrics.NewOrderMetrics()
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	serviceOpts := []orders.Option{
		orders.WithMetrics(orderMetrics),
		orders.WithLogger(logger.WithField("component", "orders")),
	}

	statusCache := initStatusCache(ctx, cfg, logger)
	if statusCache != nil {
		defer func() {
			if err := statusCache.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		}()
		serviceOpts = append(serviceOpts, orders.WithStatusCache(statusCache, cfg.StatusCacheTTL))
		healthHandler.RegisterChecker("cache", healthcheck.NewOptionalChecker("cache", statusCache.Ping))
	}

	// Ошибка уже залогирована: без producer сервис работает без Kafka.
	producer, _ := initKafkaProducer(cfg, logger)
	if producer != nil {
		serviceOpts = append(serviceOpts, orders.WithPublisher(producer))
	}

	svc := orders.NewService(deps.repo, serviceOpts...)
	pool := dispatch.NewPool(
		dispatch.WithWorkers(cfg.DispatchWorkers),
		dispatch.WithQueueSize(cfg.DispatchQueueSize),
		dispatch.WithLogger(logger.WithField("component", "dispatch-pool")),
	)

	var subscriber *kafka.Subscriber
	if producer != nil {
		handler := listener.New(svc, pool, listener.Config{
			Source:              cfg.KafkaSource,
			SkipOwnStatusEvents: cfg.SkipOwnStatusEvents,
		}, logger.WithField("component", "order-listener"))
		subscriber = kafka.NewSubscriber(
			kafka.NewGroupFactory(cfg.Brokers(), cfg.KafkaGroupID, cfg.KafkaClientID),
			handler,
		)
		// Подписчик останавливается явно в shutdown, а не по отмене ctx.
		if err := subscriber.Start(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("kafka subscriber не запущен, продолжаем без чтения событий")
			subscriber = nil
		} else {
			healthHandler.RegisterChecker("kafka", healthcheck.NewSimpleChecker("kafka", subscriberChecker(subscriber)))
		}
	}
	logger.WithField("checks", healthHandler.Names()).Info("health checks зарегистрированы")

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopBackground(subscriber, pool, producer, cfg, logger)
		return fmt.Errorf("listen http api: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		stopBackground(subscriber, pool, producer, cfg, logger)
		return fmt.Errorf("listen grpc: %w", err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		_ = grpcLis.Close()
		stopBackground(subscriber, pool, producer, cfg, logger)
		return fmt.Errorf("listen metrics: %w", err)
	}

	errCh := make(chan error, 3)
	router := rest.NewRouter(rest.NewHandler(svc, logger.WithField("component", "http-api")), orderMetrics)
	apiSrv := startHTTPServer(apiLis, router, "HTTP API", logger, errCh)
	metricsSrv := startHTTPServer(metricsLis, newMetricsMux(healthHandler), "metrics", logger, errCh)

	grpcServer, healthServer := newGRPCServer(logger)
	go func() {
		logger.Infof("gRPC health слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- err
		}
	}()

	readinessCtx, stopReadiness := context.WithCancel(ctx)
	readinessDone := make(chan struct{})
	go func() {
		defer close(readinessDone)
		syncReadiness(readinessCtx, healthHandler, healthServer, readinessSyncInterval)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("сервер остановился, завершаем работу")
		runErr = err
	}

	stopReadiness()
	<-readinessDone
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
	stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
	stopBackground(subscriber, pool, producer, cfg, logger)
	shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)

	logger.Info("сервис заказов остановлен")
	return runErr
}

// stopBackground останавливает фоновую часть в порядке: подписчик, пул, producer.
func stopBackground(subscriber *kafka.Subscriber, pool *dispatch.Pool, producer *kafka.Producer, cfg Config, logger *log.Entry) {
	if subscriber != nil {
		subscriber.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("не все фоновые задачи завершились до таймаута")
	}

	closeKafka(producer, logger)
}

func subscriberChecker(subscriber *kafka.Subscriber) func(context.Context) error {
	return func(context.Context) error {
		if state := subscriber.State(); state != kafka.StateRunning {
			return fmt.Errorf("kafka subscriber is %s", state)
		}
		return nil
	}
}
