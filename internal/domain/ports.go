package domain

import (
	"context"
	"time"
)

// InvoiceSequence выдаёт следующий номер счёта. Реализация обязана быть
// атомарным счётчиком: вывод номера подсчётом существующих записей даёт
// дубликаты под конкурентными checkout.
type InvoiceSequence interface {
	// Next возвращает следующий номер: уникальный и строго возрастающий
	// даже при конкурентных вызовах.
	Next(ctx context.Context) (int64, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла продажи.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(saleID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CheckoutStep задаёт константы шагов для метрик/логов.
type CheckoutStep string

const (
	CheckoutStepValidate  CheckoutStep = "validate"
	CheckoutStepReserve   CheckoutStep = "reserve"
	CheckoutStepInvoice   CheckoutStep = "invoice"
	CheckoutStepRecord    CheckoutStep = "record"
	CheckoutStepReconcile CheckoutStep = "reconcile"
	CheckoutStepRollback  CheckoutStep = "rollback"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// TimelineEvent описывает событие в жизненном цикле продажи.
type TimelineEvent struct {
	SaleID   string
	Type     string
	Reason   string
	Occurred time.Time
}
