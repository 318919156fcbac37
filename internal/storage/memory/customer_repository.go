package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avtodom/dms/internal/domain"
)

// customerRepositoryInMemory — in-memory реализация агрегатов клиентов.
type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.CustomerAggregate
}

// NewCustomerRepository возвращает in-memory репозиторий агрегатов клиентов.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		items: make(map[string]domain.CustomerAggregate),
	}
}

// Create сохраняет нового клиента.
func (r *customerRepositoryInMemory) Create(_ context.Context, customer domain.CustomerAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[customer.ID]; exists {
		return domain.ErrCustomerAlreadyExists
	}
	r.items[customer.ID] = customer
	return nil
}

// Get возвращает агрегат или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) Get(_ context.Context, id string) (domain.CustomerAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// ApplyPurchase атомарно прибавляет сумму покупки и инкрементирует счётчик.
func (r *customerRepositoryInMemory) ApplyPurchase(_ context.Context, id string, amountMinor int64) (domain.CustomerAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
	}

	customer.TotalSpentMinor += amountMinor
	customer.PurchaseCount++
	customer.UpdatedAt = time.Now().UTC()
	r.items[id] = customer
	return customer, nil
}

// OverwriteTotals перезаписывает агрегат пересчитанными значениями.
func (r *customerRepositoryInMemory) OverwriteTotals(_ context.Context, id string, totalMinor int64, count int64) (domain.CustomerAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.CustomerAggregate{}, domain.ErrCustomerNotFound
	}

	customer.TotalSpentMinor = totalMinor
	customer.PurchaseCount = count
	customer.UpdatedAt = time.Now().UTC()
	r.items[id] = customer
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
