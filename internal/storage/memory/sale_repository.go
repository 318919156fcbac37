package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avtodom/dms/internal/domain"
)

// saleRepositoryInMemory — in-memory реализация журнала продаж.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SaleRecord
	// byInvoice защищает уникальность номера счёта так же, как unique index в БД.
	byInvoice map[int64]string
}

// NewSaleRepository возвращает in-memory журнал продаж для разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{
		items:     make(map[string]domain.SaleRecord),
		byInvoice: make(map[int64]string),
	}
}

// Create вставляет новую запись, отклоняя дубликаты ID и номера счёта.
func (r *saleRepositoryInMemory) Create(_ context.Context, sale domain.SaleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	if _, exists := r.byInvoice[sale.InvoiceNumber]; exists {
		return domain.ErrSaleAlreadyExists
	}

	r.items[sale.ID] = sale
	r.byInvoice[sale.InvoiceNumber] = sale.ID
	return nil
}

// Get возвращает запись или ErrSaleNotFound.
func (r *saleRepositoryInMemory) Get(_ context.Context, id string) (domain.SaleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.SaleRecord{}, domain.ErrSaleNotFound
	}
	return sale, nil
}

// ListByCustomer возвращает продажи клиента, новые раньше старых.
func (r *saleRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.SaleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, len(r.items))
	for _, sale := range r.items {
		if sale.CustomerID != customerID {
			continue
		}
		result = append(result, sale)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].InvoiceNumber != result[j].InvoiceNumber {
			return result[i].InvoiceNumber > result[j].InvoiceNumber
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// SumByCustomer агрегирует не-аннулированные продажи клиента.
func (r *saleRepositoryInMemory) SumByCustomer(_ context.Context, customerID string) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		total int64
		count int64
	)
	for _, sale := range r.items {
		if sale.CustomerID != customerID || sale.Status == domain.SaleStatusVoided {
			continue
		}
		total += sale.TotalMinor
		count++
	}
	return total, count, nil
}

// UpdateStatus переводит запись в новый статус (администраивное аннулирование).
func (r *saleRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.SaleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.ErrSaleNotFound
	}
	sale.Status = status
	r.items[id] = sale
	return nil
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
