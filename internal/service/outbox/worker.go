// Package outbox доставляет события журнала продаж из транзакционного
// outbox в брокер. Запись попадает в outbox той же операцией, что и продажа,
// поэтому воркер — единственное место, где событие может потеряться: после
// исчерпания повторов оно уходит в DLQ и помечается failed.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_outbox_publish_attempts_total",
		Help: "Publish attempts for sale events grouped by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dms_outbox_pending_records",
		Help: "Sale events waiting in the transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dms_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest undelivered sale event.",
	})
)

type workerConfig struct {
	logger         *log.Entry
	dlqPublisher   domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// normalize подставляет дефолты вместо нулевых и отрицательных значений.
func (c *workerConfig) normalize() {
	if c.logger == nil {
		c.logger = log.WithField("component", "outbox-worker")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.batchSize <= 0 {
		c.batchSize = 100
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.retryBaseDelay < 0 {
		c.retryBaseDelay = 0
	}
}

// Option настраивает Worker.
type Option func(*workerConfig)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(c *workerConfig) { c.logger = logger }
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *workerConfig) { c.dlqPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(c *workerConfig) { c.pollInterval = interval }
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(c *workerConfig) { c.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(c *workerConfig) { c.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
// Ноль отключает паузы между попытками.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *workerConfig) { c.retryBaseDelay = delay }
}

// Worker публикует pending-события продаж из outbox в брокер.
type Worker struct {
	ledger    domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       workerConfig
}

// NewWorker создаёт outbox worker поверх журнала продаж.
func NewWorker(ledger domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	var cfg workerConfig
	for _, apply := range options {
		apply(&cfg)
	}
	cfg.normalize()

	return &Worker{ledger: ledger, publisher: publisher, cfg: cfg}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.ledger == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: ledger or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce забирает батч pending-событий и доводит каждое до терминального
// состояния. События одного чека обрабатываются в порядке постановки в outbox.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.ledger.PullPending(w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending sale events")
		return
	}
	if len(batch) == 0 {
		return
	}

	for _, event := range batch {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, event)
	}

	w.observeBacklog()
}

// deliver публикует одно событие: sent при успехе, failed+DLQ при исчерпании
// попыток. Ошибки маркировки только логируются, повторная доставка того же
// события идемпотентна на стороне потребителей.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) {
	if err := w.publishWithRetry(ctx, event); err != nil {
		w.cfg.logger.WithError(err).WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
		}).Error("sale event publish failed after retries")
		publishAttempts.WithLabelValues("failed").Inc()

		if dlqErr := w.publishToDLQ(event, err); dlqErr != nil {
			w.cfg.logger.WithError(dlqErr).WithField("outbox_id", event.ID).Warn("failed to publish sale event to DLQ")
			publishAttempts.WithLabelValues("dlq_failed").Inc()
		}
		if markErr := w.ledger.MarkFailed(event.ID); markErr != nil {
			w.cfg.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("failed to mark sale event as failed")
		}
		return
	}

	if err := w.ledger.MarkSent(event.ID); err != nil {
		w.cfg.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark sale event as sent")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.cfg.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(event)
		if lastErr == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues("retry_error").Inc()

		if attempt == w.cfg.maxAttempts {
			break
		}
		if delay := w.backoffDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.cfg.maxAttempts, lastErr)
}

func (w *Worker) observeBacklog() {
	stats, err := w.ledger.Stats()
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))

	var age float64
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		if since := time.Since(stats.OldestPendingAt).Seconds(); since > 0 {
			age = since
		}
	}
	oldestPendingAge.Set(age)
}

// backoffDelay возвращает base*2^(attempt-1) с защитой от переполнения.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	base := w.cfg.retryBaseDelay
	if base <= 0 {
		return 0
	}

	const ceiling = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

// dlqEnvelope — формат DLQ-записи; его же парсит утилита dlq-reprocess.
type dlqEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.cfg.dlqPublisher == nil {
		return nil
	}

	body, err := json.Marshal(dlqEnvelope{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq envelope: %w", err)
	}

	record := event
	record.Payload = body
	if err := w.cfg.dlqPublisher.Publish(record); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
