package domain

import "context"

// VehicleRepository описывает требования к хранилищу складских записей.
type VehicleRepository interface {
	// Create сохраняет новую складскую запись. Возвращает ошибку, если ID занят.
	Create(ctx context.Context, vehicle VehicleStock) error
	// Get возвращает запись по идентификатору или ErrVehicleNotFound.
	Get(ctx context.Context, id string) (VehicleStock, error)
	// ReserveStock атомарно уменьшает остаток на qty при условии stock >= qty.
	// Единственная операция движка, требующая межзапросного взаимного исключения:
	// read-then-write здесь недопустим. При нехватке — ErrInsufficientStock.
	ReserveStock(ctx context.Context, id string, qty int32) error
	// RestoreStock возвращает qty единиц на склад (компенсация резерва).
	RestoreStock(ctx context.Context, id string, qty int32) error
	// SetStock выставляет остаток напрямую (CRUD-путь) с optimistic locking
	// по версии, чтобы не разъехаться с конкурентными резервами.
	SetStock(ctx context.Context, id string, stock int32, version int64) error
}

// SaleRepository описывает требования к журналу продаж.
type SaleRepository interface {
	// Create вставляет новую запись продажи. Запись неизменяема после вставки.
	Create(ctx context.Context, sale SaleRecord) error
	// Get возвращает продажу по идентификатору или ErrSaleNotFound.
	Get(ctx context.Context, id string) (SaleRecord, error)
	// ListByCustomer возвращает продажи клиента, новые раньше старых,
	// с опциональным ограничением на количество.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]SaleRecord, error)
	// SumByCustomer агрегирует не-аннулированные продажи клиента:
	// суммарный total и число записей. Источник истины для reconcile.
	SumByCustomer(ctx context.Context, customerID string) (totalMinor int64, count int64, err error)
	// UpdateStatus переводит запись в новый статус (completed → voided).
	UpdateStatus(ctx context.Context, id string, status SaleStatus) error
}

// CustomerRepository описывает требования к хранилищу агрегатов клиентов.
type CustomerRepository interface {
	// Create сохраняет нового клиента с нулевыми агрегатами.
	Create(ctx context.Context, customer CustomerAggregate) error
	// Get возвращает агрегат по идентификатору или ErrCustomerNotFound.
	Get(ctx context.Context, id string) (CustomerAggregate, error)
	// ApplyPurchase атомарно прибавляет amountMinor к total_spent и 1 к
	// purchase_count. Инкременты коммутативны, сериализация между клиентами
	// не требуется.
	ApplyPurchase(ctx context.Context, id string, amountMinor int64) (CustomerAggregate, error)
	// OverwriteTotals перезаписывает агрегат значениями, пересчитанными из
	// журнала продаж (корректирующий путь).
	OverwriteTotals(ctx context.Context, id string, totalMinor int64, count int64) (CustomerAggregate, error)
}
