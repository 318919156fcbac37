package domain

import "time"

// CustomerAggregate — производный агрегат клиента: пожизненные затраты и число
// покупок. Инвариант: значения равны сумме/количеству не-аннулированных записей
// SaleRecord этого клиента. Поддерживается инкрементально на горячем пути и
// пересчитывается целиком корректирующей операцией reconcile.
type CustomerAggregate struct {
	ID   string
	Name string
	// TotalSpentMinor — суммарные затраты в минимальных денежных единицах (>= 0).
	TotalSpentMinor int64
	// PurchaseCount — число завершённых покупок (>= 0).
	PurchaseCount int64
	UpdatedAt     time.Time
}

// Validate проверяет инварианты агрегата.
func (c *CustomerAggregate) Validate() []error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, ErrCustomerIDRequired)
	}
	if c.TotalSpentMinor < 0 {
		errs = append(errs, ErrTotalSpentNegative)
	}
	if c.PurchaseCount < 0 {
		errs = append(errs, ErrPurchaseCountNegative)
	}

	return errs
}
