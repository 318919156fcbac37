package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
	"github.com/avtodom/dms/internal/messaging/kafka"
	"github.com/avtodom/dms/internal/metrics"
)

// stepTimeout ограничивает каждый шаг строки независимо от дедлайна запроса.
const stepTimeout = 5 * time.Second

// LineRequest описывает одну строку корзины, отправляемую на проведение.
type LineRequest struct {
	VehicleID      string
	CustomerID     string
	Quantity       int32
	UnitPriceMinor int64
	PaymentMethod  domain.PaymentMethod
}

// LineFailure описывает строку, не прошедшую checkout, с указанием шага.
type LineFailure struct {
	VehicleID string
	Step      domain.CheckoutStep
	Err       error
}

// Result агрегирует исход checkout по строкам. Строка с упавшим reconcile
// учитывается в Committed: продажа записана, агрегат чинится отдельно.
type Result struct {
	Committed        []domain.SaleRecord
	Failed           []LineFailure
	ReconcilePending []string // ID продаж, чей агрегат клиента не обновлён
}

// FullyCommitted сообщает, прошли ли все строки без провалов.
func (r Result) FullyCommitted() bool {
	return len(r.Failed) == 0
}

// CommittedVehicleIDs возвращает ID позиций склада по закоммиченным строкам.
func (r Result) CommittedVehicleIDs() []string {
	ids := make([]string, 0, len(r.Committed))
	for _, sale := range r.Committed {
		ids = append(ids, sale.VehicleID)
	}
	return ids
}

// Coordinator проводит строки корзины через reserve → invoice → record →
// reconcile с компенсацией резерва на шагах 2-3.
type Coordinator interface {
	CheckoutLine(ctx context.Context, req LineRequest) (domain.SaleRecord, error)
	Checkout(ctx context.Context, snapshot domain.CartSnapshot) Result
}

type coordinator struct {
	vehicles      domain.VehicleRepository
	sales         domain.SaleRepository
	customers     domain.CustomerRepository
	invoices      domain.InvoiceSequence
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для lifecycle-событий
}

// NewCoordinator создаёт рабочий экземпляр координатора.
func NewCoordinator(
	vehicles domain.VehicleRepository,
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	invoices domain.InvoiceSequence,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		vehicles:  vehicles,
		sales:     sales,
		customers: customers,
		invoices:  invoices,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
		metrics:   metrics.NewCheckoutMetrics(),
	}
}

// NewCoordinatorWithKafka создаёт координатор, публикующий lifecycle-события в Kafka.
func NewCoordinatorWithKafka(
	vehicles domain.VehicleRepository,
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	invoices domain.InvoiceSequence,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		vehicles:      vehicles,
		sales:         sales,
		customers:     customers,
		invoices:      invoices,
		outbox:        outbox,
		timeline:      timeline,
		logger:        logger,
		metrics:       metrics.NewCheckoutMetrics(),
		kafkaProducer: kafkaProducer,
	}
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(
	vehicles domain.VehicleRepository,
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	invoices domain.InvoiceSequence,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		vehicles:  vehicles,
		sales:     sales,
		customers: customers,
		invoices:  invoices,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
	}
}

// Checkout проводит снимок корзины построчно. Строки независимы: провал
// одной не откатывает уже записанные продажи других.
func (c *coordinator) Checkout(ctx context.Context, snapshot domain.CartSnapshot) Result {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordCheckoutStarted()
	}
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCheckoutDuration(time.Since(start))
			c.metrics.RecordCheckoutFinished()
		}
	}()

	checkoutID := uuid.NewString()
	c.publishCheckoutEvent(kafka.EventTypeCheckoutStarted, checkoutID, snapshot.CustomerID, map[string]interface{}{
		"lines":       len(snapshot.Lines),
		"total_minor": snapshot.TotalMinor(),
	})

	var result Result
	for _, line := range snapshot.Lines {
		sale, err := c.CheckoutLine(ctx, LineRequest{
			VehicleID:      line.VehicleID,
			CustomerID:     snapshot.CustomerID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			PaymentMethod:  snapshot.PaymentMethod,
		})
		switch {
		case err == nil:
			result.Committed = append(result.Committed, sale)
		case errors.Is(err, domain.ErrCustomerReconcileFailed):
			// Продажа записана, агрегат клиента разъехался: строка
			// закоммичена, ремонт идёт через reconcile.
			result.Committed = append(result.Committed, sale)
			result.ReconcilePending = append(result.ReconcilePending, sale.ID)
		default:
			result.Failed = append(result.Failed, LineFailure{
				VehicleID: line.VehicleID,
				Step:      stepOf(err),
				Err:       err,
			})
		}
	}

	if result.FullyCommitted() {
		if c.metrics != nil {
			c.metrics.RecordCheckoutCompleted()
		}
		c.publishCheckoutEvent(kafka.EventTypeCheckoutCompleted, checkoutID, snapshot.CustomerID, map[string]interface{}{
			"committed": len(result.Committed),
		})
	} else {
		if c.metrics != nil {
			c.metrics.RecordCheckoutFailed()
		}
		c.publishCheckoutEvent(kafka.EventTypeCheckoutFailed, checkoutID, snapshot.CustomerID, map[string]interface{}{
			"committed": len(result.Committed),
			"failed":    len(result.Failed),
		})
	}

	return result
}

// CheckoutLine проводит одну строку. Ошибка ErrCustomerReconcileFailed
// возвращается вместе с записанной продажей: леджер уже закоммичен.
func (c *coordinator) CheckoutLine(ctx context.Context, req LineRequest) (domain.SaleRecord, error) {
	if err := validateLine(req); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("%w: %v", domain.ErrInvalidCheckout, err)
	}

	// Шаг 1: резерв склада. Единственный шаг, требующий атомарности:
	// условный декремент на стороне хранилища.
	if err := c.reserve(ctx, req); err != nil {
		if c.metrics != nil {
			c.metrics.RecordLineFailed()
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"vehicle_id": req.VehicleID,
			"quantity":   req.Quantity,
		}).Warn("stock reserve failed")
		return domain.SaleRecord{}, err
	}

	// Шаг 2: номер счёта. Провал компенсируется возвратом резерва;
	// выданный номер при провале последующих шагов сгорает (допустимый gap).
	invoiceNumber, err := c.nextInvoice(ctx)
	if err != nil {
		c.rollbackReserve(ctx, req, "invoice assignment failed")
		if c.metrics != nil {
			c.metrics.RecordLineFailed()
		}
		c.logger.WithError(err).WithField("vehicle_id", req.VehicleID).Error("invoice assignment failed")
		// Сервис нумерации уже оборачивает ошибку счётчика; не дублируем.
		if !errors.Is(err, domain.ErrInvoiceAssignmentFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrInvoiceAssignmentFailed, err)
		}
		return domain.SaleRecord{}, err
	}

	// Шаг 3: запись в журнал продаж.
	sale, err := c.record(ctx, req, invoiceNumber)
	if err != nil {
		c.rollbackReserve(ctx, req, "ledger write failed")
		if c.metrics != nil {
			c.metrics.RecordLineFailed()
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"vehicle_id":     req.VehicleID,
			"invoice_number": invoiceNumber,
		}).Error("sale ledger write failed")
		return domain.SaleRecord{}, fmt.Errorf("%w: %v", domain.ErrLedgerWriteFailed, err)
	}

	if c.metrics != nil {
		c.metrics.RecordLineCommitted()
	}
	c.emitSaleEvents(sale)

	// Шаг 4: агрегат клиента. Продажа уже закоммичена, компенсация
	// недопустима: провал оставляет дрейф, чинимый reconcile-путём.
	if err := c.reconcile(ctx, sale); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"sale_id":     sale.ID,
			"customer_id": sale.CustomerID,
		}).Error("customer aggregate update failed, sale stays committed")
		c.emitEvent(sale.ID, "CustomerReconcileNeeded", map[string]interface{}{
			"customer_id": sale.CustomerID,
			"reason":      err.Error(),
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		})
		c.publishCheckoutEvent(kafka.EventTypeCustomerReconciled, sale.ID, sale.CustomerID, map[string]interface{}{
			"status": "pending",
			"reason": err.Error(),
		})
		return sale, fmt.Errorf("%w: %v", domain.ErrCustomerReconcileFailed, err)
	}

	return sale, nil
}

func (c *coordinator) reserve(ctx context.Context, req LineRequest) error {
	start := time.Now()
	defer c.observeStep(domain.CheckoutStepReserve, start)

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return c.vehicles.ReserveStock(stepCtx, req.VehicleID, req.Quantity)
}

func (c *coordinator) nextInvoice(ctx context.Context) (int64, error) {
	start := time.Now()
	defer c.observeStep(domain.CheckoutStepInvoice, start)

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return c.invoices.Next(stepCtx)
}

func (c *coordinator) record(ctx context.Context, req LineRequest, invoiceNumber int64) (domain.SaleRecord, error) {
	start := time.Now()
	defer c.observeStep(domain.CheckoutStepRecord, start)

	subtotal, tax, total := domain.ComputeAmounts(req.Quantity, req.UnitPriceMinor)
	sale := domain.SaleRecord{
		ID:             uuid.NewString(),
		InvoiceNumber:  invoiceNumber,
		VehicleID:      req.VehicleID,
		CustomerID:     req.CustomerID,
		Quantity:       req.Quantity,
		UnitPriceMinor: req.UnitPriceMinor,
		SubtotalMinor:  subtotal,
		TaxMinor:       tax,
		TotalMinor:     total,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.SaleStatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := c.sales.Create(stepCtx, sale); err != nil {
		return domain.SaleRecord{}, err
	}
	return sale, nil
}

func (c *coordinator) reconcile(ctx context.Context, sale domain.SaleRecord) error {
	start := time.Now()
	defer c.observeStep(domain.CheckoutStepReconcile, start)

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	_, err := c.customers.ApplyPurchase(stepCtx, sale.CustomerID, sale.TotalMinor)
	return err
}

// rollbackReserve возвращает резерв строки на склад. Ошибка компенсации
// только логируется: повторять её — задача оператора, строка уже провалена.
func (c *coordinator) rollbackReserve(ctx context.Context, req LineRequest, reason string) {
	start := time.Now()
	defer c.observeStep(domain.CheckoutStepRollback, start)

	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := c.vehicles.RestoreStock(stepCtx, req.VehicleID, req.Quantity); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"vehicle_id": req.VehicleID,
			"quantity":   req.Quantity,
			"reason":     reason,
		}).Error("stock restore failed")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordLineRolledBack()
	}
	c.publishCheckoutEvent(kafka.EventTypeStockRestored, req.VehicleID, req.CustomerID, map[string]interface{}{
		"quantity": req.Quantity,
		"reason":   reason,
	})
}

func (c *coordinator) observeStep(step domain.CheckoutStep, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

// emitSaleEvents пишет продажу в outbox и timeline.
func (c *coordinator) emitSaleEvents(sale domain.SaleRecord) {
	c.emitEvent(sale.ID, "SaleRecorded", map[string]interface{}{
		"invoice_number": sale.InvoiceNumber,
		"vehicle_id":     sale.VehicleID,
		"customer_id":    sale.CustomerID,
		"total_minor":    sale.TotalMinor,
		"ts":             sale.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (c *coordinator) emitEvent(saleID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["sale_id"] = saleID
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"sale_id": saleID,
			"event":   eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "sale",
		AggregateID:   saleID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := c.outbox.Enqueue(msg); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"sale_id": saleID,
			"event":   eventType,
		}).Error("enqueue event failed")
	} else if c.metrics != nil {
		c.metrics.RecordOutboxEvent()
	}

	if c.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		var occurred time.Time
		if ts, ok := payload["ts"].(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				occurred = parsed
			}
		}
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		event := domain.TimelineEvent{
			SaleID:   saleID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := c.timeline.Append(event); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"sale_id": saleID,
				"event":   eventType,
			}).Warn("append timeline event failed")
		} else if c.metrics != nil {
			c.metrics.RecordTimelineEvent()
		}
	}
}

// publishCheckoutEvent публикует lifecycle-событие в Kafka (если producer настроен).
func (c *coordinator) publishCheckoutEvent(eventType kafka.EventType, checkoutID, customerID string, metadata map[string]interface{}) {
	if c.kafkaProducer == nil {
		return
	}

	event := kafka.NewCheckoutEvent(eventType, checkoutID, customerID, metadata)
	if err := c.kafkaProducer.PublishEvent(kafka.TopicCheckoutEvents, checkoutID, event); err != nil {
		// Kafka опциональный: ошибку логируем, checkout не прерываем.
		c.logger.WithError(err).WithFields(log.Fields{
			"event_type":  eventType,
			"checkout_id": checkoutID,
		}).Warn("failed to publish checkout event to kafka")
	}
}

func validateLine(req LineRequest) error {
	if req.VehicleID == "" {
		return domain.ErrVehicleIDRequired
	}
	if req.CustomerID == "" {
		return domain.ErrCustomerIDRequired
	}
	if req.Quantity < 1 {
		return domain.ErrQuantityInvalid
	}
	if req.UnitPriceMinor < 0 {
		return domain.ErrPriceNegative
	}
	if !req.PaymentMethod.Valid() {
		return domain.ErrPaymentMethodInvalid
	}
	return nil
}

func stepOf(err error) domain.CheckoutStep {
	switch {
	case errors.Is(err, domain.ErrInvalidCheckout):
		return domain.CheckoutStepValidate
	case errors.Is(err, domain.ErrInvoiceAssignmentFailed):
		return domain.CheckoutStepInvoice
	case errors.Is(err, domain.ErrLedgerWriteFailed):
		return domain.CheckoutStepRecord
	case errors.Is(err, domain.ErrCustomerReconcileFailed):
		return domain.CheckoutStepReconcile
	default:
		return domain.CheckoutStepReserve
	}
}

var _ Coordinator = (*coordinator)(nil)
