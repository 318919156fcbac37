package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avtodom/dms/internal/domain"
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

func (r *saleRepository) Create(ctx context.Context, sale domain.SaleRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, vehicle_id, customer_id, quantity,
			unit_price_minor, subtotal_minor, tax_minor, total_minor,
			payment_method, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		sale.ID, sale.InvoiceNumber, sale.VehicleID, sale.CustomerID, sale.Quantity,
		sale.UnitPriceMinor, sale.SubtotalMinor, sale.TaxMinor, sale.TotalMinor,
		string(sale.PaymentMethod), string(sale.Status), sale.CreatedAt,
	)
	if err != nil {
		// Уникальный индекс по invoice_number — последний рубеж против
		// дубликатов номеров.
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	return nil
}

func (r *saleRepository) Get(ctx context.Context, id string) (domain.SaleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sale, err := scanSale(r.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, vehicle_id, customer_id, quantity,
		       unit_price_minor, subtotal_minor, tax_minor, total_minor,
		       payment_method, status, created_at
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaleRecord{}, domain.ErrSaleNotFound
		}
		return domain.SaleRecord{}, fmt.Errorf("select sale: %w", err)
	}

	return sale, nil
}

func (r *saleRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.SaleRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, invoice_number, vehicle_id, customer_id, quantity,
		       unit_price_minor, subtotal_minor, tax_minor, total_minor,
		       payment_method, status, created_at
		FROM sales
		WHERE customer_id = $1
		ORDER BY invoice_number DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale rows: %w", err)
	}

	return sales, nil
}

// SumByCustomer считает агрегат из источника истины. Используется только
// корректирующим reconcile, не горячим путём checkout.
func (r *saleRepository) SumByCustomer(ctx context.Context, customerID string) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		total int64
		count int64
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_minor), 0), COUNT(*)
		FROM sales
		WHERE customer_id = $1
		  AND status <> 'voided'
	`, customerID).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("sum sales by customer: %w", err)
	}

	return total, count, nil
}

func (r *saleRepository) UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE sales
		SET status = $2
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update sale status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for sale status: %w", err)
	}
	if affected == 0 {
		return domain.ErrSaleNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.SaleRecord, error) {
	var (
		sale          domain.SaleRecord
		paymentMethod string
		status        string
	)
	if err := row.Scan(
		&sale.ID, &sale.InvoiceNumber, &sale.VehicleID, &sale.CustomerID, &sale.Quantity,
		&sale.UnitPriceMinor, &sale.SubtotalMinor, &sale.TaxMinor, &sale.TotalMinor,
		&paymentMethod, &status, &sale.CreatedAt,
	); err != nil {
		return domain.SaleRecord{}, err
	}
	sale.PaymentMethod = domain.PaymentMethod(paymentMethod)
	sale.Status = domain.SaleStatus(status)
	return sale, nil
}

var _ domain.SaleRepository = (*saleRepository)(nil)
