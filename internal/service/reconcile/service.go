package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
)

const opTimeout = 5 * time.Second

var (
	reconcileRecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_reconcile_recomputes_total",
		Help: "Total number of customer aggregate recomputes grouped by result.",
	}, []string{"result"})
	reconcileDriftDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_reconcile_drift_detected_total",
		Help: "Total number of recomputes that found the stored aggregate out of sync with the sales ledger.",
	})
)

// Service чинит агрегаты клиентов: пересчёт из журнала продаж как источника
// истины либо прямой инкремент, когда сумма известна вызывающему.
type Service interface {
	// RecomputeCustomer пересчитывает total_spent/purchase_count клиента из
	// не-аннулированных продаж и перезаписывает агрегат. Возвращает
	// обновлённый агрегат.
	RecomputeCustomer(ctx context.Context, customerID string) (domain.CustomerAggregate, error)
	// IncrementCustomer прибавляет amountMinor к агрегату без обращения к
	// журналу. Инкрементный путь: быстрее пересчёта, но накапливает дрейф
	// при сбоях.
	IncrementCustomer(ctx context.Context, customerID string, amountMinor int64) (domain.CustomerAggregate, error)
}

type service struct {
	customers domain.CustomerRepository
	sales     domain.SaleRepository
	logger    *log.Entry
}

// NewService создаёт сервис reconcile.
func NewService(customers domain.CustomerRepository, sales domain.SaleRepository, logger *log.Entry) Service {
	if logger == nil {
		logger = log.WithField("component", "reconcile")
	}
	return &service{
		customers: customers,
		sales:     sales,
		logger:    logger,
	}
}

func (s *service) RecomputeCustomer(ctx context.Context, customerID string) (domain.CustomerAggregate, error) {
	if customerID == "" {
		return domain.CustomerAggregate{}, domain.ErrCustomerIDRequired
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	current, err := s.customers.Get(opCtx, customerID)
	if err != nil {
		reconcileRecomputesTotal.WithLabelValues("error").Inc()
		return domain.CustomerAggregate{}, err
	}

	totalMinor, count, err := s.sales.SumByCustomer(opCtx, customerID)
	if err != nil {
		reconcileRecomputesTotal.WithLabelValues("error").Inc()
		return domain.CustomerAggregate{}, fmt.Errorf("sum sales for customer %s: %w", customerID, err)
	}

	if current.TotalSpentMinor != totalMinor || current.PurchaseCount != count {
		reconcileDriftDetectedTotal.Inc()
		s.logger.WithFields(log.Fields{
			"customer_id":      customerID,
			"stored_total":     current.TotalSpentMinor,
			"stored_count":     current.PurchaseCount,
			"recomputed_total": totalMinor,
			"recomputed_count": count,
		}).Warn("customer aggregate drift detected")
	}

	updated, err := s.customers.OverwriteTotals(opCtx, customerID, totalMinor, count)
	if err != nil {
		reconcileRecomputesTotal.WithLabelValues("error").Inc()
		return domain.CustomerAggregate{}, fmt.Errorf("overwrite totals for customer %s: %w", customerID, err)
	}

	reconcileRecomputesTotal.WithLabelValues("ok").Inc()
	return updated, nil
}

func (s *service) IncrementCustomer(ctx context.Context, customerID string, amountMinor int64) (domain.CustomerAggregate, error) {
	if customerID == "" {
		return domain.CustomerAggregate{}, domain.ErrCustomerIDRequired
	}
	if amountMinor < 0 {
		return domain.CustomerAggregate{}, domain.ErrPriceNegative
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.customers.ApplyPurchase(opCtx, customerID, amountMinor)
}

var _ Service = (*service)(nil)
