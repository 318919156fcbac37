package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/app"
)

const (
	envHTTPAddr                    = "DMS_HTTP_ADDR"
	envMetricsAddr                 = "DMS_METRICS_ADDR"
	envStorageDriver               = "DMS_STORAGE"
	envPostgresDSN                 = "DMS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "DMS_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaConsumerGroup          = "DMS_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval          = "DMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "DMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "DMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "DMS_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "DMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "DMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envReconcileInterval           = "DMS_RECONCILE_INTERVAL"
	envReconcileBatchSize          = "DMS_RECONCILE_BATCH_SIZE"
	envReconcileBreakerFailures    = "DMS_RECONCILE_BREAKER_FAILURES"
	envReconcileBreakerReset       = "DMS_RECONCILE_BREAKER_RESET"
)

// envLookup абстрагирует чтение переменных окружения для тестируемости.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv строит конфигурацию из DefaultConfig с переопределениями
// из окружения. Невалидные значения не валят запуск: остаётся дефолт, а
// предупреждение возвращается вызывающему.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	if value, ok := lookup(envHTTPAddr); ok && strings.TrimSpace(value) != "" {
		cfg.HTTPAddr = strings.TrimSpace(value)
	}
	if value, ok := lookup(envMetricsAddr); ok && strings.TrimSpace(value) != "" {
		cfg.MetricsAddr = strings.TrimSpace(value)
	}
	if value, ok := lookup(envStorageDriver); ok && strings.TrimSpace(value) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup(envPostgresDSN); ok && strings.TrimSpace(value) != "" {
		cfg.PostgresDSN = strings.TrimSpace(value)
	}
	if value, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(value); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if value, ok := lookup(envKafkaBrokers); ok && strings.TrimSpace(value) != "" {
		cfg.KafkaBrokers = strings.TrimSpace(value)
	}
	if value, ok := lookup(envKafkaConsumerGroup); ok && strings.TrimSpace(value) != "" {
		cfg.KafkaConsumerGroup = strings.TrimSpace(value)
	}
	if value, ok := lookup(envOutboxPollInterval); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envOutboxPollInterval, err))
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if value, ok := lookup(envOutboxBatchSize); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envOutboxBatchSize, err))
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if value, ok := lookup(envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envOutboxMaxAttempts, err))
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if value, ok := lookup(envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v >= 0 }, "must be >= 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envOutboxRetryDelay, err))
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}
	if value, ok := lookup(envIdempotencyCleanupInterval); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envIdempotencyCleanupInterval, err))
		} else {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}
	if value, ok := lookup(envIdempotencyCleanupBatchSize); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envIdempotencyCleanupBatchSize, err))
		} else {
			cfg.IdempotencyCleanupBatchSize = parsed
		}
	}
	if value, ok := lookup(envReconcileInterval); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envReconcileInterval, err))
		} else {
			cfg.ReconcileInterval = parsed
		}
	}
	if value, ok := lookup(envReconcileBatchSize); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envReconcileBatchSize, err))
		} else {
			cfg.ReconcileBatchSize = parsed
		}
	}
	if value, ok := lookup(envReconcileBreakerFailures); ok {
		if parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envReconcileBreakerFailures, err))
		} else {
			cfg.ReconcileBreakerFailures = parsed
		}
	}
	if value, ok := lookup(envReconcileBreakerReset); ok {
		if parsed, err := parseDuration(value, func(v time.Duration) bool { return v > 0 }, "must be > 0"); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envReconcileBreakerReset, err))
		} else {
			cfg.ReconcileBreakerReset = parsed
		}
	}

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	parsed, err := strconv.ParseBool(normalized)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
	return parsed, nil
}

func parseInt(value string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q", value)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %d is out of range: %s", parsed, rule)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", value)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %s is out of range: %s", parsed, rule)
	}
	return parsed, nil
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем checkout-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("checkout-service остановлен")
}
