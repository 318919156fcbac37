package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
	"github.com/avtodom/dms/internal/storage/memory"
	"github.com/avtodom/dms/internal/storage/postgres"
)

// Dependencies содержит хранилища, на которых собирается приложение.
type Dependencies struct {
	Vehicles     domain.VehicleRepository
	Sales        domain.SaleRepository
	Customers    domain.CustomerRepository
	Invoices     domain.InvoiceSequence
	OutboxRepo   domain.OutboxRepository
	TimelineRepo domain.TimelineRepository
	IdemRepo     domain.IdempotencyRepository

	// Store не nil только для postgres-хранилища.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewMemoryDependencies собирает зависимости на in-memory хранилище.
func NewMemoryDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return &Dependencies{
		Vehicles:     memory.NewVehicleRepository(),
		Sales:        memory.NewSaleRepository(),
		Customers:    memory.NewCustomerRepository(),
		Invoices:     memory.NewInvoiceSequence(0),
		OutboxRepo:   memory.NewOutboxRepository(),
		TimelineRepo: memory.NewTimelineRepository(),
		IdemRepo:     memory.NewIdempotencyRepository(),
		Logger:       logger,
	}
}

// NewPostgresDependencies собирает зависимости поверх открытого Store.
func NewPostgresDependencies(store *postgres.Store, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	return &Dependencies{
		Vehicles:     postgres.NewVehicleRepository(store),
		Sales:        postgres.NewSaleRepository(store),
		Customers:    postgres.NewCustomerRepository(store),
		Invoices:     postgres.NewInvoiceSequence(store),
		OutboxRepo:   postgres.NewOutboxRepository(store),
		TimelineRepo: postgres.NewTimelineRepository(store),
		IdemRepo:     postgres.NewIdempotencyRepository(store),
		Store:        store,
		Logger:       logger,
	}
}

// Close освобождает внешние ресурсы зависимостей.
func (d *Dependencies) Close() error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}
