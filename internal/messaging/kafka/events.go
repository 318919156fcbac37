package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Checkout события
	EventTypeCheckoutStarted   EventType = "checkout.started"
	EventTypeCheckoutCompleted EventType = "checkout.completed"
	EventTypeCheckoutFailed    EventType = "checkout.failed"

	// Step события
	EventTypeStockReserved   EventType = "step.stock_reserved"
	EventTypeStockRestored   EventType = "step.stock_restored"
	EventTypeInvoiceAssigned EventType = "step.invoice_assigned"

	// Sale события
	EventTypeSaleRecorded       EventType = "sale.recorded"
	EventTypeSaleVoided         EventType = "sale.voided"
	EventTypeCustomerReconciled EventType = "customer.reconciled"
)

// Topics для Kafka
const (
	TopicCheckoutEvents  = "dms.checkout.events"
	TopicSaleEvents      = "dms.sale.events"
	TopicDeadLetterQueue = "dms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// CheckoutEvent представляет событие процесса checkout
type CheckoutEvent struct {
	EventType  EventType              `json:"event_type"`
	CheckoutID string                 `json:"checkout_id"`
	CustomerID string                 `json:"customer_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SaleEvent представляет событие записи продажи
type SaleEvent struct {
	EventType     EventType              `json:"event_type"`
	SaleID        string                 `json:"sale_id"`
	InvoiceNumber int64                  `json:"invoice_number"`
	VehicleID     string                 `json:"vehicle_id"`
	CustomerID    string                 `json:"customer_id"`
	TotalMinor    int64                  `json:"total_minor"`
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewCheckoutEvent создает новое событие checkout
func NewCheckoutEvent(eventType EventType, checkoutID, customerID string, metadata map[string]interface{}) *CheckoutEvent {
	return &CheckoutEvent{
		EventType:  eventType,
		CheckoutID: checkoutID,
		CustomerID: customerID,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}

// NewSaleEvent создает новое событие продажи
func NewSaleEvent(eventType EventType, saleID string, invoiceNumber int64, vehicleID, customerID string, totalMinor int64, status string) *SaleEvent {
	return &SaleEvent{
		EventType:     eventType,
		SaleID:        saleID,
		InvoiceNumber: invoiceNumber,
		VehicleID:     vehicleID,
		CustomerID:    customerID,
		TotalMinor:    totalMinor,
		Status:        status,
		Timestamp:     time.Now(),
	}
}
