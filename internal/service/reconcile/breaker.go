package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
)

// ErrBreakerOpen возвращается, пока circuit breaker не пропускает пересчёты.
var ErrBreakerOpen = errors.New("reconcile circuit breaker is open")

var breakerOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dms_reconcile_breaker_open_total",
	Help: "Total number of times the reconcile circuit breaker opened.",
})

// CircuitState состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker отсекает пересчёты агрегатов, когда хранилище стабильно
// отвечает ошибками. Потокобезопасен: drift worker зовёт его из нескольких
// горутин одного прохода.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker создаёт circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "reconcile-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		// Бизнес-ошибки не признак деградации хранилища и серию не копят.
		if isBusinessError(err) {
			return err
		}
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				breakerOpenTotal.Inc()
			}
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}

		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0

	return nil
}

func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrCustomerNotFound) ||
		errors.Is(err, domain.ErrCustomerIDRequired) ||
		errors.Is(err, domain.ErrPriceNegative)
}

// breakerService оборачивает Service circuit breaker'ом: серия ошибок
// хранилища перестаёт долбить базу до истечения resetTimeout.
type breakerService struct {
	inner   Service
	breaker *CircuitBreaker
}

var _ Service = (*breakerService)(nil)

// NewServiceWithBreaker оборачивает сервис пересчёта circuit breaker'ом.
func NewServiceWithBreaker(inner Service, breaker *CircuitBreaker) Service {
	return &breakerService{inner: inner, breaker: breaker}
}

func (s *breakerService) RecomputeCustomer(ctx context.Context, customerID string) (domain.CustomerAggregate, error) {
	var customer domain.CustomerAggregate
	err := s.breaker.Execute("RecomputeCustomer", func() error {
		var innerErr error
		customer, innerErr = s.inner.RecomputeCustomer(ctx, customerID)
		return innerErr
	})
	return customer, err
}

func (s *breakerService) IncrementCustomer(ctx context.Context, customerID string, amountMinor int64) (domain.CustomerAggregate, error) {
	var customer domain.CustomerAggregate
	err := s.breaker.Execute("IncrementCustomer", func() error {
		var innerErr error
		customer, innerErr = s.inner.IncrementCustomer(ctx, customerID, amountMinor)
		return innerErr
	})
	return customer, err
}
