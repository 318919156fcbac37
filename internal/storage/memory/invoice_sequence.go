package memory

import (
	"context"
	"sync/atomic"

	"github.com/avtodom/dms/internal/domain"
)

// invoiceSequenceInMemory — атомарный счётчик номеров счетов.
// Один на процесс: та же семантика, что однострочная таблица-счётчик в БД.
type invoiceSequenceInMemory struct {
	value atomic.Int64
}

// NewInvoiceSequence создаёт счётчик, продолжающий с last.
func NewInvoiceSequence(last int64) domain.InvoiceSequence {
	seq := &invoiceSequenceInMemory{}
	seq.value.Store(last)
	return seq
}

// Next возвращает следующий номер одной атомарной операцией.
func (s *invoiceSequenceInMemory) Next(_ context.Context) (int64, error) {
	return s.value.Add(1), nil
}

var _ domain.InvoiceSequence = (*invoiceSequenceInMemory)(nil)
