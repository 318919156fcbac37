package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultDriftInterval    = 1 * time.Minute
	defaultDriftBatchSize   = 100
	defaultDriftParallelism = 4
)

var (
	driftWorkerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_reconcile_worker_runs_total",
		Help: "Total number of drift worker runs grouped by result.",
	}, []string{"result"})
	driftWorkerFlaggedCustomers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dms_reconcile_worker_flagged_customers",
		Help: "Current number of customers flagged for aggregate recompute.",
	})
)

// DriftOptions задаёт параметры drift worker.
type DriftOptions struct {
	Logger      *log.Entry
	Interval    time.Duration
	BatchSize   int
	Parallelism int
}

// DriftOption настраивает DriftWorker.
type DriftOption func(*DriftOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) DriftOption {
	return func(opts *DriftOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) DriftOption {
	return func(opts *DriftOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт максимум клиентов, пересчитываемых за один проход.
func WithBatchSize(batchSize int) DriftOption {
	return func(opts *DriftOptions) {
		opts.BatchSize = batchSize
	}
}

// WithParallelism задаёт число одновременных пересчётов внутри одного прохода.
func WithParallelism(parallelism int) DriftOption {
	return func(opts *DriftOptions) {
		opts.Parallelism = parallelism
	}
}

// DriftWorker периодически пересчитывает агрегаты клиентов, помеченных после
// провала инкрементного обновления. Пометка идемпотентна: повторный Flag того
// же клиента до пересчёта не плодит работу.
type DriftWorker struct {
	service  Service
	logger   *log.Entry
	interval time.Duration
	batch    int
	parallel int

	mu      sync.Mutex
	flagged map[string]struct{}
}

// NewDriftWorker создаёт воркер пересчёта агрегатов.
func NewDriftWorker(service Service, options ...DriftOption) *DriftWorker {
	opts := DriftOptions{
		Interval:    defaultDriftInterval,
		BatchSize:   defaultDriftBatchSize,
		Parallelism: defaultDriftParallelism,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-drift-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultDriftInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultDriftBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultDriftParallelism
	}

	return &DriftWorker{
		service:  service,
		logger:   logger,
		interval: opts.Interval,
		batch:    opts.BatchSize,
		parallel: opts.Parallelism,
		flagged:  make(map[string]struct{}),
	}
}

// Flag помечает клиента на пересчёт при следующем проходе.
func (w *DriftWorker) Flag(customerID string) {
	if customerID == "" {
		return
	}

	w.mu.Lock()
	w.flagged[customerID] = struct{}{}
	driftWorkerFlaggedCustomers.Set(float64(len(w.flagged)))
	w.mu.Unlock()
}

// FlaggedCount возвращает число клиентов, ожидающих пересчёта.
func (w *DriftWorker) FlaggedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.flagged)
}

// Run запускает периодический пересчёт до отмены ctx.
func (w *DriftWorker) Run(ctx context.Context) {
	if w.service == nil {
		w.logger.Warn("reconcile drift worker is disabled: service is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce пересчитывает до batchSize помеченных клиентов, не более
// parallel одновременно. Клиент, чей пересчёт упал, возвращается в очередь
// на следующий проход.
func (w *DriftWorker) ProcessOnce(ctx context.Context) {
	batch := w.takeBatch()
	if len(batch) == 0 {
		return
	}

	var failed atomic.Int64
	semaphore := make(chan struct{}, w.parallel)
	var wg sync.WaitGroup

	for _, customerID := range batch {
		if ctx.Err() != nil {
			// Недоделанную работу возвращаем в очередь.
			w.Flag(customerID)
			failed.Add(1)
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func(customerID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := w.service.RecomputeCustomer(ctx, customerID); err != nil {
				w.logger.WithError(err).WithField("customer_id", customerID).Warn("customer recompute failed, re-flagged")
				w.Flag(customerID)
				failed.Add(1)
			}
		}(customerID)
	}
	wg.Wait()

	if failed.Load() > 0 {
		driftWorkerRunsTotal.WithLabelValues("partial").Inc()
		return
	}
	driftWorkerRunsTotal.WithLabelValues("ok").Inc()
}

func (w *DriftWorker) takeBatch() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.flagged) == 0 {
		return nil
	}

	batch := make([]string, 0, w.batch)
	for customerID := range w.flagged {
		if len(batch) >= w.batch {
			break
		}
		batch = append(batch, customerID)
		delete(w.flagged, customerID)
	}
	driftWorkerFlaggedCustomers.Set(float64(len(w.flagged)))
	return batch
}
