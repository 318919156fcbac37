package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
	"github.com/avtodom/dms/internal/service/checkout"
)

const opTimeout = 5 * time.Second

var (
	// ErrClerkIDRequired — сессия корзины всегда привязана к продавцу.
	ErrClerkIDRequired = errors.New("clerk_id is required")
	// ErrSessionNotFound — продавец не открывал сессию либо она удалена.
	ErrSessionNotFound = errors.New("cart session not found")
)

// View — снимок сессии для чтения. Корзина наружу не отдаётся: её методы не
// потокобезопасны, сериализацию держит менеджер.
type View struct {
	ClerkID       string
	State         domain.CartState
	CustomerID    string
	PaymentMethod domain.PaymentMethod
	Lines         []domain.CartLine
	TotalMinor    int64
}

type session struct {
	mu   sync.Mutex
	cart *domain.Cart
}

// Manager держит по одной сессии корзины на продавца и сериализует доступ к
// ней. Правки валидируются по last-known стоку из репозитория; жёсткая
// проверка происходит на checkout через условный декремент.
type Manager struct {
	vehicles    domain.VehicleRepository
	coordinator checkout.Coordinator
	logger      *log.Entry

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager создаёт менеджер сессий корзин.
func NewManager(vehicles domain.VehicleRepository, coordinator checkout.Coordinator, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "cart-manager")
	}
	return &Manager{
		vehicles:    vehicles,
		coordinator: coordinator,
		logger:      logger,
		sessions:    make(map[string]*session),
	}
}

// Open возвращает сессию продавца, создавая пустую при первом обращении.
func (m *Manager) Open(clerkID string) (View, error) {
	if clerkID == "" {
		return View{}, ErrClerkIDRequired
	}

	m.mu.Lock()
	s, ok := m.sessions[clerkID]
	if !ok {
		s = &session{cart: domain.NewCart()}
		m.sessions[clerkID] = s
	}
	m.mu.Unlock()

	return m.view(clerkID, s), nil
}

// Get возвращает снимок существующей сессии.
func (m *Manager) Get(clerkID string) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// Discard удаляет сессию продавца. Отмена до checkout безопасна: состояние
// корзины чисто локальное. Сессию в Submitting удалить нельзя.
func (m *Manager) Discard(clerkID string) error {
	s, err := m.session(clerkID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	locked := s.cart.State() == domain.CartStateSubmitting
	s.mu.Unlock()
	if locked {
		return domain.ErrCartLocked
	}

	m.mu.Lock()
	delete(m.sessions, clerkID)
	m.mu.Unlock()
	return nil
}

// AddLine добавляет позицию в корзину продавца, проверяя количество по
// last-known стоку склада.
func (m *Manager) AddLine(ctx context.Context, clerkID, vehicleID string, qty int32) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}

	vehicle, err := m.getVehicle(ctx, vehicleID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	err = s.cart.AddLine(vehicle, qty)
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// SetQuantity меняет количество позиции; qty <= 0 удаляет её.
func (m *Manager) SetQuantity(ctx context.Context, clerkID, vehicleID string, qty int32) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}

	vehicle, err := m.getVehicle(ctx, vehicleID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	err = s.cart.SetQuantity(vehicle, qty)
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// RemoveLine удаляет позицию из корзины.
func (m *Manager) RemoveLine(clerkID, vehicleID string) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	err = s.cart.RemoveLine(vehicleID)
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// SelectCustomer выбирает клиента для будущей продажи.
func (m *Manager) SelectCustomer(clerkID, customerID string) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	err = s.cart.SelectCustomer(customerID)
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// SetPaymentMethod выбирает способ оплаты.
func (m *Manager) SetPaymentMethod(clerkID string, method domain.PaymentMethod) (View, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	err = s.cart.SetPaymentMethod(method)
	s.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return m.view(clerkID, s), nil
}

// Checkout снимает снимок корзины и проводит его через координатор. На время
// проведения корзина заблокирована машиной состояний, а не мьютексом: чтение
// сессии остаётся доступным. По исходу зафиксированные позиции убираются,
// неуспешные остаются для повторной попытки.
func (m *Manager) Checkout(ctx context.Context, clerkID string) (checkout.Result, error) {
	s, err := m.session(clerkID)
	if err != nil {
		return checkout.Result{}, err
	}

	s.mu.Lock()
	snapshot, err := s.cart.BeginCheckout()
	s.mu.Unlock()
	if err != nil {
		return checkout.Result{}, err
	}

	result := m.coordinator.Checkout(ctx, snapshot)

	s.mu.Lock()
	s.cart.CompleteCheckout(result.CommittedVehicleIDs())
	state := s.cart.State()
	s.mu.Unlock()

	m.logger.WithFields(log.Fields{
		"clerk_id":   clerkID,
		"committed":  len(result.Committed),
		"failed":     len(result.Failed),
		"cart_state": state,
	}).Info("cart checkout finished")

	return result, nil
}

func (m *Manager) session(clerkID string) (*session, error) {
	if clerkID == "" {
		return nil, ErrClerkIDRequired
	}

	m.mu.RLock()
	s, ok := m.sessions[clerkID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) getVehicle(ctx context.Context, vehicleID string) (domain.VehicleStock, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return m.vehicles.Get(opCtx, vehicleID)
}

func (m *Manager) view(clerkID string, s *session) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.cart.Lines()
	var total int64
	for _, line := range lines {
		_, _, lineTotal := domain.ComputeAmounts(line.Quantity, line.UnitPriceMinor)
		total += lineTotal
	}
	return View{
		ClerkID:       clerkID,
		State:         s.cart.State(),
		CustomerID:    s.cart.CustomerID(),
		PaymentMethod: s.cart.PaymentMethod(),
		Lines:         lines,
		TotalMinor:    total,
	}
}
