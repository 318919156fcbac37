package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avtodom/dms/internal/domain"
	"github.com/avtodom/dms/internal/service/checkout"
)

func TestCreateCoordinator_WithoutKafka(t *testing.T) {
	deps := NewMemoryDependencies(nil)

	coordinator := createCoordinator(deps, nil)
	if coordinator == nil {
		t.Fatal("coordinator must not be nil")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	if err := deps.Vehicles.Create(ctx, domain.VehicleStock{
		ID:         "vehicle-1",
		Make:       "Lada",
		Model:      "Granta",
		PriceMinor: 800_00,
		Stock:      2,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	if err := deps.Customers.Create(ctx, domain.CustomerAggregate{ID: "customer-1", Name: "Smirnov", UpdatedAt: now}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	result := coordinator.Checkout(ctx, domain.CartSnapshot{
		CustomerID:    "customer-1",
		PaymentMethod: domain.PaymentMethodCash,
		Lines: []domain.CartLine{
			{VehicleID: "vehicle-1", Quantity: 1, UnitPriceMinor: 800_00},
		},
		CapturedAt: now,
	})

	if !result.FullyCommitted() || len(result.Committed) != 1 {
		t.Fatalf("unexpected checkout result: %+v", result)
	}
	if result.Committed[0].InvoiceNumber != 1 {
		t.Fatalf("expected invoice 1, got %d", result.Committed[0].InvoiceNumber)
	}
}

type brokenInvoiceSequence struct{}

func (brokenInvoiceSequence) Next(context.Context) (int64, error) {
	return 0, errors.New("sequence row is locked")
}

func TestCreateCoordinator_WrapsInvoiceSequence(t *testing.T) {
	deps := NewMemoryDependencies(nil)
	deps.Invoices = brokenInvoiceSequence{}

	coordinator := createCoordinator(deps, nil)

	ctx := context.Background()
	now := time.Now().UTC()
	if err := deps.Vehicles.Create(ctx, domain.VehicleStock{
		ID:         "vehicle-1",
		Make:       "Lada",
		Model:      "Granta",
		PriceMinor: 800_00,
		Stock:      2,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	_, err := coordinator.CheckoutLine(ctx, checkout.LineRequest{
		VehicleID:      "vehicle-1",
		CustomerID:     "customer-1",
		Quantity:       1,
		UnitPriceMinor: 800_00,
		PaymentMethod:  domain.PaymentMethodCash,
	})
	if !errors.Is(err, domain.ErrInvoiceAssignmentFailed) {
		t.Fatalf("expected ErrInvoiceAssignmentFailed, got %v", err)
	}
	// Ошибку счётчика оборачивает сервис нумерации; координатор не должен
	// заворачивать её второй раз.
	if got := strings.Count(err.Error(), domain.ErrInvoiceAssignmentFailed.Error()); got != 1 {
		t.Fatalf("expected single invoice-failure wrap, got %d in %q", got, err.Error())
	}

	// Резерв компенсирован: склад не тронут.
	vehicle, getErr := deps.Vehicles.Get(ctx, "vehicle-1")
	if getErr != nil {
		t.Fatalf("get vehicle: %v", getErr)
	}
	if vehicle.Stock != 2 {
		t.Fatalf("expected stock restored to 2, got %d", vehicle.Stock)
	}
}
