package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/api"
	healthcheck "github.com/avtodom/dms/internal/health"
	"github.com/avtodom/dms/internal/messaging/kafka"
	"github.com/avtodom/dms/internal/service/idempotency"
	"github.com/avtodom/dms/internal/service/outbox"
	"github.com/avtodom/dms/internal/service/reconcile"
	"github.com/avtodom/dms/internal/version"
)

// Run собирает и запускает движок: хранилище, координатор, воркеры и два
// HTTP-сервера (API и метрики). Блокируется до отмены ctx или падения API.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deps, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	// Kafka опционален: без брокеров движок работает, события остаются в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	coordinator := createCoordinator(deps, kafkaProducer)
	reconciler := reconcile.NewServiceWithBreaker(
		reconcile.NewService(deps.Customers, deps.Sales, logger.WithField("component", "reconcile")),
		reconcile.NewCircuitBreaker(cfg.ReconcileBreakerFailures, cfg.ReconcileBreakerReset, logger.WithField("component", "reconcile-breaker")),
	)

	driftWorker := reconcile.NewDriftWorker(
		reconciler,
		reconcile.WithLogger(logger.WithField("component", "reconcile-drift-worker")),
		reconcile.WithInterval(cfg.ReconcileInterval),
		reconcile.WithBatchSize(cfg.ReconcileBatchSize),
	)
	go driftWorker.Run(ctx)

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.IdemRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	if kafkaProducer != nil {
		outboxWorker := outbox.NewWorker(
			deps.OutboxRepo,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicSaleEvents),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go outboxWorker.Run(ctx)

		startReconcileConsumer(ctx, cfg, kafkaProducer, driftWorker, logger)
	}

	apiHandler := api.NewHandler(coordinator, reconciler, deps.Vehicles, deps.IdemRepo, logger.WithField("component", "http-api"))
	// Без Kafka пометка на пересчёт идёт напрямую из API-пути; с Kafka
	// дублирующая пометка того же клиента идемпотентна.
	apiHandler.RegisterDriftFlagger(driftWorker.Flag)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiHandler.Routes()}

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer pingCancel()
			return store.Ping(pingCtx)
		}))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(httpSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		return err
	}
}

// startReconcileConsumer подписывается на checkout-события и помечает
// клиентов с провалившимся инкрементом на пересчёт агрегата.
func startReconcileConsumer(
	ctx context.Context,
	cfg Config,
	producer *kafka.Producer,
	driftWorker *reconcile.DriftWorker,
	logger *log.Entry,
) {
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	handler := func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseCheckoutEvent(message)
		if err != nil {
			return err
		}
		if event.EventType != kafka.EventTypeCustomerReconciled {
			return nil
		}
		driftWorker.Flag(event.CustomerID)
		return nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		brokers,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicCheckoutEvents},
		handler,
		producer,
		3,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create reconcile consumer, continuing without it")
		return
	}

	go func() {
		if startErr := consumer.Start(ctx); startErr != nil {
			logger.WithError(startErr).Warn("reconcile consumer stopped with error")
		}
	}()
	go func() {
		<-ctx.Done()
		if stopErr := consumer.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("failed to stop reconcile consumer")
		}
	}()
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
