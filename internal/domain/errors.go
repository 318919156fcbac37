package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора автомобиля.
	ErrVehicleIDRequired = errors.New("vehicle_id is required")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerIDRequired = errors.New("customer_id is required")
	// Ошибка при некорректном количестве (< 1).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отрицательной цены.
	ErrPriceNegative = errors.New("unit price must be non-negative")
	// Ошибка несоответствия сумм продажи производным от qty * price.
	ErrAmountMismatch = errors.New("sale amounts do not match quantity and unit price")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("unsupported payment method")
	// Ошибка отрицательного остатка на складе.
	ErrStockNegative = errors.New("stock must be non-negative")
	// Ошибка отрицательных пожизненных затрат клиента.
	ErrTotalSpentNegative = errors.New("total_spent must be non-negative")
	// Ошибка отрицательного счётчика покупок.
	ErrPurchaseCountNegative = errors.New("purchase_count must be non-negative")

	// ErrInsufficientStock — условный декремент не прошёл: на складе меньше,
	// чем запрошено. Состояние строки не изменено, можно повторить с меньшим qty.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvoiceAssignmentFailed — сервис нумерации счетов недоступен; резерв
	// по строке откатывается.
	ErrInvoiceAssignmentFailed = errors.New("invoice number assignment failed")
	// ErrLedgerWriteFailed — запись продажи не сохранилась; резерв откатывается.
	ErrLedgerWriteFailed = errors.New("sale ledger write failed")
	// ErrCustomerReconcileFailed — продажа зафиксирована, но агрегат клиента
	// не обновился. Не откатывается: дрейф чинит корректирующий reconcile.
	ErrCustomerReconcileFailed = errors.New("customer aggregate update failed")
	// ErrInvalidCheckout — пустая корзина или не выбран клиент; хранилища не трогались.
	ErrInvalidCheckout = errors.New("checkout requires a selected customer and at least one line")
	// ErrCartLocked — попытка редактировать корзину, пока идёт checkout.
	ErrCartLocked = errors.New("cart is locked while checkout is in flight")

	// ErrVehicleNotFound возвращается, если запись склада не найдена.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrSaleNotFound возвращается, если запись продажи не найдена.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyExists сигнализирует о конфликте ID/номера счёта при вставке.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrVehicleAlreadyExists возвращается при повторной вставке записи склада.
	ErrVehicleAlreadyExists = errors.New("vehicle already exists")
	// ErrCustomerAlreadyExists возвращается при повторной вставке клиента.
	ErrCustomerAlreadyExists = errors.New("customer already exists")
	// ErrVehicleVersionConflict сигнализирует о конфликте версий при прямой
	// правке складской записи (CRUD-путь).
	ErrVehicleVersionConflict = errors.New("vehicle version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка отсутствующего idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Ошибка отсутствующего хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован; ответ можно переиспользовать.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ прислан с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsInsufficientStock проверяет, является ли ошибка нехваткой стока.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий склада.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVehicleVersionConflict)
}
