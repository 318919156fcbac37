package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avtodom/dms/internal/domain"
)

// vehicleRepositoryInMemory — in-memory реализация VehicleRepository для
// локальной разработки и тестов. Условный декремент выполняется под общим
// мьютексом, что даёт те же гарантии, что атомарный UPDATE в PostgreSQL.
type vehicleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.VehicleStock
}

// NewVehicleRepository возвращает in-memory репозиторий складских записей.
func NewVehicleRepository() domain.VehicleRepository {
	return &vehicleRepositoryInMemory{
		items: make(map[string]domain.VehicleStock),
	}
}

// Create сохраняет новую складскую запись, если ID ещё не занят.
func (r *vehicleRepositoryInMemory) Create(_ context.Context, vehicle domain.VehicleStock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[vehicle.ID]; exists {
		return domain.ErrVehicleAlreadyExists
	}
	r.items[vehicle.ID] = vehicle
	return nil
}

// Get возвращает копию записи или ErrVehicleNotFound.
func (r *vehicleRepositoryInMemory) Get(_ context.Context, id string) (domain.VehicleStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vehicle, ok := r.items[id]
	if !ok {
		return domain.VehicleStock{}, domain.ErrVehicleNotFound
	}
	return vehicle, nil
}

// ReserveStock атомарно списывает qty при условии stock >= qty.
// Проверка и запись выполняются под одним захватом мьютекса: два конкурентных
// резерва не могут оба увидеть достаточный остаток.
func (r *vehicleRepositoryInMemory) ReserveStock(_ context.Context, id string, qty int32) error {
	if qty < 1 {
		return domain.ErrQuantityInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vehicle, ok := r.items[id]
	if !ok {
		return domain.ErrVehicleNotFound
	}
	if vehicle.Stock < qty {
		return domain.ErrInsufficientStock
	}

	vehicle.Stock -= qty
	vehicle.Version++
	vehicle.UpdatedAt = time.Now().UTC()
	r.items[id] = vehicle
	return nil
}

// RestoreStock возвращает qty единиц на склад (компенсация неудавшейся строки).
func (r *vehicleRepositoryInMemory) RestoreStock(_ context.Context, id string, qty int32) error {
	if qty < 1 {
		return domain.ErrQuantityInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vehicle, ok := r.items[id]
	if !ok {
		return domain.ErrVehicleNotFound
	}

	vehicle.Stock += qty
	vehicle.Version++
	vehicle.UpdatedAt = time.Now().UTC()
	r.items[id] = vehicle
	return nil
}

// SetStock выставляет остаток напрямую с проверкой версии (optimistic locking),
// чтобы CRUD-правка не затёрла конкурентный резерв.
func (r *vehicleRepositoryInMemory) SetStock(_ context.Context, id string, stock int32, version int64) error {
	if stock < 0 {
		return domain.ErrStockNegative
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vehicle, ok := r.items[id]
	if !ok {
		return domain.ErrVehicleNotFound
	}
	if vehicle.Version != version {
		return domain.ErrVehicleVersionConflict
	}

	vehicle.Stock = stock
	vehicle.Version++
	vehicle.UpdatedAt = time.Now().UTC()
	r.items[id] = vehicle
	return nil
}

var _ domain.VehicleRepository = (*vehicleRepositoryInMemory)(nil)
