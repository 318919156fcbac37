package domain

import "time"

// VehicleStock — складская запись по одной модели/комплектации.
// Поле Stock никогда не уходит в минус: единственный путь списания —
// условный атомарный декремент в VehicleRepository.ReserveStock.
type VehicleStock struct {
	ID    string
	Make  string
	Model string
	// PriceMinor — актуальная цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Stock — доступное количество на складе (>= 0).
	Stock int32
	// Version используется для optimistic locking при прямых правках из CRUD.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля записи.
func (v *VehicleStock) Validate() []error {
	var errs []error

	if v.ID == "" {
		errs = append(errs, ErrVehicleIDRequired)
	}
	if v.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if v.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
