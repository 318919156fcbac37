package domain

import "time"

// CartState описывает состояние сессии корзины продавца.
type CartState string

const (
	// CartStateEmpty — корзина создана, позиций нет.
	CartStateEmpty CartState = "empty"
	// CartStateBuilding — продавец наполняет корзину.
	CartStateBuilding CartState = "building"
	// CartStateReadyToCheckout — есть позиции и выбран клиент.
	CartStateReadyToCheckout CartState = "ready_to_checkout"
	// CartStateSubmitting — снимок передан координатору; правки запрещены.
	CartStateSubmitting CartState = "submitting"
	// CartStateCompleted — все позиции зафиксированы, корзина пуста.
	CartStateCompleted CartState = "completed"
	// CartStateFailed — checkout завершился хотя бы одной неуспешной позицией.
	CartStateFailed CartState = "failed"
)

// CartLine — одна позиция корзины. Эфемерна, не сохраняется.
type CartLine struct {
	VehicleID string
	Quantity  int32
	// UnitPriceMinor фиксируется в момент добавления: цена в снимке не
	// меняется, даже если CRUD поправил прайс до отправки.
	UnitPriceMinor int64
}

// Cart — локальная для одного продавца сессия корзины. Чистое состояние без
// I/O: проверка стока идёт по last-known значению, которое передаёт вызывающий.
// Методы не потокобезопасны; конкурентный доступ сериализует владелец сессии.
type Cart struct {
	lines         []CartLine
	customerID    string
	paymentMethod PaymentMethod
	state         CartState
	createdAt     time.Time
}

// NewCart создаёт пустую сессию корзины.
func NewCart() *Cart {
	return &Cart{
		state:     CartStateEmpty,
		createdAt: time.Now().UTC(),
	}
}

// State возвращает текущее состояние машины состояний.
func (c *Cart) State() CartState {
	return c.state
}

// Lines возвращает копию позиций в порядке добавления.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// CustomerID возвращает выбранного клиента (пустая строка, если не выбран).
func (c *Cart) CustomerID() string {
	return c.customerID
}

// PaymentMethod возвращает выбранный способ оплаты.
func (c *Cart) PaymentMethod() PaymentMethod {
	return c.paymentMethod
}

// AddLine добавляет позицию. Если автомобиль уже в корзине, количества
// сливаются; проверка last-known стока применяется к итоговому количеству.
func (c *Cart) AddLine(vehicle VehicleStock, qty int32) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}
	if qty < 1 {
		return ErrQuantityInvalid
	}

	merged := qty
	for _, line := range c.lines {
		if line.VehicleID == vehicle.ID {
			merged += line.Quantity
			break
		}
	}
	if merged > vehicle.Stock {
		return ErrInsufficientStock
	}

	for i := range c.lines {
		if c.lines[i].VehicleID == vehicle.ID {
			c.lines[i].Quantity = merged
			c.refreshState()
			return nil
		}
	}

	c.lines = append(c.lines, CartLine{
		VehicleID:      vehicle.ID,
		Quantity:       qty,
		UnitPriceMinor: vehicle.PriceMinor,
	})
	c.refreshState()
	return nil
}

// SetQuantity меняет количество позиции: qty <= 0 удаляет её, иначе новое
// значение перепроверяется по last-known стоку.
func (c *Cart) SetQuantity(vehicle VehicleStock, qty int32) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}

	if qty <= 0 {
		return c.removeLine(vehicle.ID)
	}
	if qty > vehicle.Stock {
		return ErrInsufficientStock
	}

	for i := range c.lines {
		if c.lines[i].VehicleID == vehicle.ID {
			c.lines[i].Quantity = qty
			c.refreshState()
			return nil
		}
	}
	return ErrVehicleNotFound
}

// RemoveLine удаляет позицию по идентификатору автомобиля.
func (c *Cart) RemoveLine(vehicleID string) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}
	return c.removeLine(vehicleID)
}

// SelectCustomer выбирает клиента для будущей продажи. Чистое обновление состояния.
func (c *Cart) SelectCustomer(customerID string) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}
	c.customerID = customerID
	c.refreshState()
	return nil
}

// SetPaymentMethod выбирает способ оплаты. Чистое обновление состояния.
func (c *Cart) SetPaymentMethod(method PaymentMethod) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}
	if !method.Valid() {
		return ErrPaymentMethodInvalid
	}
	c.paymentMethod = method
	return nil
}

// BeginCheckout переводит корзину в Submitting и возвращает неизменяемый
// снимок для координатора. Требует непустой набор позиций и выбранного
// клиента, иначе ErrInvalidCheckout. До исхода checkout правки запрещены.
func (c *Cart) BeginCheckout() (CartSnapshot, error) {
	if c.state == CartStateSubmitting {
		return CartSnapshot{}, ErrCartLocked
	}
	if len(c.lines) == 0 || c.customerID == "" {
		return CartSnapshot{}, ErrInvalidCheckout
	}

	c.state = CartStateSubmitting

	lines := make([]CartLine, len(c.lines))
	copy(lines, c.lines)
	method := c.paymentMethod
	if method == "" {
		method = PaymentMethodCash
	}
	return CartSnapshot{
		CustomerID:    c.customerID,
		PaymentMethod: method,
		Lines:         lines,
		CapturedAt:    time.Now().UTC(),
	}, nil
}

// CompleteCheckout применяет исход checkout: зафиксированные позиции
// убираются, неуспешные остаются для повторной попытки или удаления.
func (c *Cart) CompleteCheckout(committedVehicleIDs []string) {
	if c.state != CartStateSubmitting {
		return
	}

	committed := make(map[string]struct{}, len(committedVehicleIDs))
	for _, id := range committedVehicleIDs {
		committed[id] = struct{}{}
	}

	remaining := c.lines[:0]
	for _, line := range c.lines {
		if _, ok := committed[line.VehicleID]; !ok {
			remaining = append(remaining, line)
		}
	}
	c.lines = remaining

	if len(c.lines) == 0 {
		c.state = CartStateCompleted
		c.customerID = ""
		c.paymentMethod = ""
		return
	}
	c.state = CartStateFailed
}

// FailCheckout возвращает корзину из Submitting в Failed, ничего не меняя в
// позициях (ни одна строка не была зафиксирована).
func (c *Cart) FailCheckout() {
	if c.state != CartStateSubmitting {
		return
	}
	c.state = CartStateFailed
}

// Reset очищает корзину (явная отмена продавцом). До BeginCheckout отмена
// безопасна: состояние чисто локальное, побочных эффектов нет.
func (c *Cart) Reset() error {
	if c.state == CartStateSubmitting {
		return ErrCartLocked
	}
	c.lines = nil
	c.customerID = ""
	c.paymentMethod = ""
	c.state = CartStateEmpty
	return nil
}

func (c *Cart) removeLine(vehicleID string) error {
	for i := range c.lines {
		if c.lines[i].VehicleID == vehicleID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			c.refreshState()
			return nil
		}
	}
	return ErrVehicleNotFound
}

func (c *Cart) ensureEditable() error {
	if c.state == CartStateSubmitting {
		return ErrCartLocked
	}
	// Completed/Failed — терминальные только для прошедшего checkout: новая
	// правка открывает следующий цикл наполнения.
	return nil
}

func (c *Cart) refreshState() {
	switch {
	case len(c.lines) == 0:
		c.state = CartStateEmpty
	case c.customerID != "":
		c.state = CartStateReadyToCheckout
	default:
		c.state = CartStateBuilding
	}
}

// CartSnapshot — неизменяемый снимок корзины в момент BeginCheckout.
// Координатор работает только со снимком; конкурентные правки корзины на
// исход не влияют.
type CartSnapshot struct {
	CustomerID    string
	PaymentMethod PaymentMethod
	Lines         []CartLine
	CapturedAt    time.Time
}

// TotalMinor возвращает суммарный total снимка с учётом налога.
func (s CartSnapshot) TotalMinor() int64 {
	var sum int64
	for _, line := range s.Lines {
		_, _, total := ComputeAmounts(line.Quantity, line.UnitPriceMinor)
		sum += total
	}
	return sum
}
