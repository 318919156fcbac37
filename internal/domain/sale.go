package domain

import "time"

// PaymentMethod описывает способ оплаты продажи. Для движка это непрозрачный
// тег: интеграции с платёжным провайдером здесь нет.
type PaymentMethod string

const (
	// PaymentMethodCash — оплата наличными в кассе.
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodCreditCard — оплата банковской картой.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	// PaymentMethodFinancing — продажа в кредит/рассрочку.
	PaymentMethodFinancing PaymentMethod = "financing"
)

// Valid проверяет, что способ оплаты относится к поддерживаемым значениям.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodFinancing:
		return true
	default:
		return false
	}
}

// SaleStatus описывает жизненный цикл записи в журнале продаж.
type SaleStatus string

const (
	// SaleStatusCompleted — продажа завершена и учтена в агрегатах.
	SaleStatusCompleted SaleStatus = "completed"
	// SaleStatusVoided — продажа аннулирована административно; запись остаётся,
	// но исключается из агрегатов клиента.
	SaleStatusVoided SaleStatus = "voided"
)

// TaxRateBasisPoints — фиксированная ставка налога в базисных пунктах (10%).
// Корректность налоговых кодов вне зоны ответственности движка.
const TaxRateBasisPoints int64 = 1000

// SaleRecord — одна строка журнала продаж. После создания запись неизменяема,
// кроме перехода Status → voided.
type SaleRecord struct {
	ID string
	// InvoiceNumber — сквозной номер счёта, уникальный и строго возрастающий
	// по всему журналу. Назначается сервисом нумерации, не приложением.
	InvoiceNumber int64
	VehicleID     string
	CustomerID    string
	// Quantity — количество единиц (>= 1).
	Quantity int32
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64
	SubtotalMinor  int64
	TaxMinor       int64
	TotalMinor     int64
	PaymentMethod  PaymentMethod
	Status         SaleStatus
	CreatedAt      time.Time
}

// ComputeAmounts считает subtotal/tax/total для строки продажи по фиксированной
// ставке. Все суммы в минимальных единицах, округление вниз.
func ComputeAmounts(qty int32, unitPriceMinor int64) (subtotal, tax, total int64) {
	subtotal = int64(qty) * unitPriceMinor
	tax = subtotal * TaxRateBasisPoints / 10000
	total = subtotal + tax
	return subtotal, tax, total
}

// ValidateInvariants проверяет базовые инварианты записи и возвращает список замечаний.
func (s *SaleRecord) ValidateInvariants() []error {
	var errs []error

	if s.VehicleID == "" {
		errs = append(errs, ErrVehicleIDRequired)
	}
	if s.CustomerID == "" {
		errs = append(errs, ErrCustomerIDRequired)
	}
	if s.Quantity < 1 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if s.UnitPriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if !s.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	// Сверяем суммы с производными от qty * price.
	subtotal, tax, total := ComputeAmounts(s.Quantity, s.UnitPriceMinor)
	if s.Quantity >= 1 && s.UnitPriceMinor >= 0 {
		if s.SubtotalMinor != subtotal || s.TaxMinor != tax || s.TotalMinor != total {
			errs = append(errs, ErrAmountMismatch)
		}
	}

	return errs
}
