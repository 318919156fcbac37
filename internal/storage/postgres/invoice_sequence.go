package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avtodom/dms/internal/domain"
)

type invoiceSequence struct {
	db *sql.DB
}

// NewInvoiceSequence создаёт PostgreSQL-реализацию счётчика номеров счетов.
// Счётчик — одна строка таблицы invoice_sequence; инкремент и чтение нового
// значения выполняются одним UPDATE ... RETURNING, поэтому чисел-дубликатов
// не бывает даже под конкурентными checkout. Выводить номер подсчётом строк
// журнала нельзя: count-then-insert — гонка по построению.
func NewInvoiceSequence(store *Store) domain.InvoiceSequence {
	return &invoiceSequence{db: store.DB()}
}

func (s *invoiceSequence) Next(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE invoice_sequence
		SET value = value + 1
		WHERE name = 'sales'
		RETURNING value
	`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advance invoice sequence: %w", err)
	}

	return value, nil
}

var _ domain.InvoiceSequence = (*invoiceSequence)(nil)
