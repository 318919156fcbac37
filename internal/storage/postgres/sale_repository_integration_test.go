package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avtodom/dms/internal/domain"
)

func sampleSale(id string, invoiceNumber int64, customerID string, totalBase int64) domain.SaleRecord {
	subtotal, tax, total := domain.ComputeAmounts(1, totalBase)
	return domain.SaleRecord{
		ID:             id,
		InvoiceNumber:  invoiceNumber,
		VehicleID:      "vehicle-1",
		CustomerID:     customerID,
		Quantity:       1,
		UnitPriceMinor: totalBase,
		SubtotalMinor:  subtotal,
		TaxMinor:       tax,
		TotalMinor:     total,
		PaymentMethod:  domain.PaymentMethodCash,
		Status:         domain.SaleStatusCompleted,
		CreatedAt:      time.Now().UTC().Round(time.Microsecond),
	}
}

func TestSaleRepository_PostgresCreateGetAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSaleRepository(store)

	ctx := context.Background()

	sale1 := sampleSale("sale-1", 1, "customer-1", 1_000_000_00)
	sale2 := sampleSale("sale-2", 2, "customer-1", 2_000_000_00)

	if err := repo.Create(ctx, sale1); err != nil {
		t.Fatalf("create sale1: %v", err)
	}
	if err := repo.Create(ctx, sale2); err != nil {
		t.Fatalf("create sale2: %v", err)
	}

	got, err := repo.Get(ctx, "sale-1")
	if err != nil {
		t.Fatalf("get sale1: %v", err)
	}
	if got.InvoiceNumber != 1 || got.TotalMinor != sale1.TotalMinor || got.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("unexpected sale payload: %+v", got)
	}

	if _, err := repo.Get(ctx, "missing-sale"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}

	listed, err := repo.ListByCustomer(ctx, "customer-1", 0)
	if err != nil {
		t.Fatalf("list by customer: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 sales, got %d", len(listed))
	}
	// Новые продажи раньше старых.
	if listed[0].InvoiceNumber != 2 || listed[1].InvoiceNumber != 1 {
		t.Fatalf("unexpected list order: %+v", listed)
	}

	limited, err := repo.ListByCustomer(ctx, "customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "sale-2" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}
}

func TestSaleRepository_PostgresDuplicateInvoiceNumber(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSaleRepository(store)

	ctx := context.Background()

	if err := repo.Create(ctx, sampleSale("sale-dup-1", 77, "customer-1", 100_00)); err != nil {
		t.Fatalf("create first sale: %v", err)
	}

	// Тот же ID.
	if err := repo.Create(ctx, sampleSale("sale-dup-1", 78, "customer-1", 100_00)); !errors.Is(err, domain.ErrSaleAlreadyExists) {
		t.Fatalf("expected ErrSaleAlreadyExists for duplicate id, got %v", err)
	}
	// Тот же номер счёта.
	if err := repo.Create(ctx, sampleSale("sale-dup-2", 77, "customer-1", 100_00)); !errors.Is(err, domain.ErrSaleAlreadyExists) {
		t.Fatalf("expected ErrSaleAlreadyExists for duplicate invoice, got %v", err)
	}
}

func TestSaleRepository_PostgresSumByCustomerExcludesVoided(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSaleRepository(store)

	ctx := context.Background()

	sale1 := sampleSale("sale-sum-1", 10, "customer-sum", 500_00)
	sale2 := sampleSale("sale-sum-2", 11, "customer-sum", 700_00)
	sale3 := sampleSale("sale-sum-3", 12, "customer-other", 900_00)

	for _, sale := range []domain.SaleRecord{sale1, sale2, sale3} {
		if err := repo.Create(ctx, sale); err != nil {
			t.Fatalf("create sale %s: %v", sale.ID, err)
		}
	}

	total, count, err := repo.SumByCustomer(ctx, "customer-sum")
	if err != nil {
		t.Fatalf("sum by customer: %v", err)
	}
	if want := sale1.TotalMinor + sale2.TotalMinor; total != want || count != 2 {
		t.Fatalf("unexpected sum: total=%d count=%d want total=%d count=2", total, count, want)
	}

	if err := repo.UpdateStatus(ctx, "sale-sum-2", domain.SaleStatusVoided); err != nil {
		t.Fatalf("void sale: %v", err)
	}

	total, count, err = repo.SumByCustomer(ctx, "customer-sum")
	if err != nil {
		t.Fatalf("sum after void: %v", err)
	}
	if total != sale1.TotalMinor || count != 1 {
		t.Fatalf("unexpected sum after void: total=%d count=%d", total, count)
	}

	total, count, err = repo.SumByCustomer(ctx, "customer-without-sales")
	if err != nil {
		t.Fatalf("sum for empty customer: %v", err)
	}
	if total != 0 || count != 0 {
		t.Fatalf("expected zero sum for empty customer, got total=%d count=%d", total, count)
	}

	if err := repo.UpdateStatus(ctx, "missing-sale", domain.SaleStatusVoided); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound on update missing, got %v", err)
	}
}
