// Package idempotency содержит фоновую очистку просроченных idempotency-ключей
// checkout-запросов. Ключ держит ответ продажи до истечения TTL, после чего
// повтор того же Idempotency-Key считается новым чекаутом.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_idempotency_cleanup_deleted_total",
		Help: "Expired checkout idempotency keys deleted so far.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dms_idempotency_cleanup_last_deleted",
		Help: "Keys deleted during the most recent cleanup run.",
	})
)

type cleanupConfig struct {
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

func (c *cleanupConfig) normalize() {
	if c.logger == nil {
		c.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if c.interval <= 0 {
		c.interval = 10 * time.Minute
	}
	if c.batchSize <= 0 {
		c.batchSize = 500
	}
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupConfig)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(c *cleanupConfig) { c.logger = logger }
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(c *cleanupConfig) { c.interval = interval }
}

// WithBatchSize задает размер порции для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(c *cleanupConfig) { c.batchSize = batchSize }
}

// CleanupWorker периодически удаляет просроченные idempotency-ключи чекаутов.
type CleanupWorker struct {
	keys domain.IdempotencyRepository
	cfg  cleanupConfig
}

// NewCleanupWorker создает воркер очистки поверх хранилища ключей.
func NewCleanupWorker(keys domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	var cfg cleanupConfig
	for _, apply := range options {
		apply(&cfg)
	}
	cfg.normalize()

	return &CleanupWorker{keys: keys, cfg: cfg}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.keys == nil {
		w.cfg.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context, before time.Time) {
	deleted, err := w.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRuns.WithLabelValues("error").Inc()
		w.cfg.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRuns.WithLabelValues("ok").Inc()
	cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.cfg.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет ключи с истекшим TTL порциями, пока хранилище
// возвращает полный батч. Возвращает суммарное число удаленных записей.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.keys.DeleteExpired(before, w.cfg.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			cleanupDeleted.Add(float64(deleted))
		}
		if deleted < w.cfg.batchSize {
			return total, nil
		}
	}
}
