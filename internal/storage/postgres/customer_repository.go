package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avtodom/dms/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Create(ctx context.Context, customer domain.CustomerAggregate) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, name, total_spent_minor, purchase_count, updated_at
		) VALUES ($1,$2,$3,$4,$5)
	`,
		customer.ID, customer.Name, customer.TotalSpentMinor,
		customer.PurchaseCount, customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCustomerAlreadyExists
		}
		return fmt.Errorf("insert customer: %w", err)
	}

	return nil
}

func (r *customerRepository) Get(ctx context.Context, id string) (domain.CustomerAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var customer domain.CustomerAggregate
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, total_spent_minor, purchase_count, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(
		&customer.ID, &customer.Name, &customer.TotalSpentMinor,
		&customer.PurchaseCount, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
		}
		return domain.CustomerAggregate{}, fmt.Errorf("select customer: %w", err)
	}

	return customer, nil
}

// ApplyPurchase выполняет оба инкремента одним UPDATE: сумма и счётчик
// коммутативны, так что блокировка строки клиента на время запроса — вся
// нужная сериализация.
func (r *customerRepository) ApplyPurchase(ctx context.Context, id string, amountMinor int64) (domain.CustomerAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var customer domain.CustomerAggregate
	err := r.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_spent_minor = total_spent_minor + $2,
		    purchase_count = purchase_count + 1,
		    updated_at = $3
		WHERE id = $1
		RETURNING id, name, total_spent_minor, purchase_count, updated_at
	`, id, amountMinor, time.Now().UTC()).Scan(
		&customer.ID, &customer.Name, &customer.TotalSpentMinor,
		&customer.PurchaseCount, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
		}
		return domain.CustomerAggregate{}, fmt.Errorf("apply purchase: %w", err)
	}

	return customer, nil
}

func (r *customerRepository) OverwriteTotals(ctx context.Context, id string, totalMinor int64, count int64) (domain.CustomerAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var customer domain.CustomerAggregate
	err := r.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_spent_minor = $2,
		    purchase_count = $3,
		    updated_at = $4
		WHERE id = $1
		RETURNING id, name, total_spent_minor, purchase_count, updated_at
	`, id, totalMinor, count, time.Now().UTC()).Scan(
		&customer.ID, &customer.Name, &customer.TotalSpentMinor,
		&customer.PurchaseCount, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
		}
		return domain.CustomerAggregate{}, fmt.Errorf("overwrite customer totals: %w", err)
	}

	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
