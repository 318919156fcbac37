package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
	"github.com/avtodom/dms/internal/invoice"
	"github.com/avtodom/dms/internal/service/checkout"
	"github.com/avtodom/dms/internal/service/reconcile"
)

// Handler обслуживает внешний HTTP-интерфейс движка.
type Handler struct {
	coordinator checkout.Coordinator
	reconciler  reconcile.Service
	vehicles    domain.VehicleRepository
	idemRepo    domain.IdempotencyRepository
	flagDrift   func(customerID string)
	logger      *log.Entry
}

// NewHandler создаёт HTTP handler. idemRepo опционален: без него заголовок
// Idempotency-Key игнорируется.
func NewHandler(
	coordinator checkout.Coordinator,
	reconciler reconcile.Service,
	vehicles domain.VehicleRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{
		coordinator: coordinator,
		reconciler:  reconciler,
		vehicles:    vehicles,
		idemRepo:    idemRepo,
		logger:      logger,
	}
}

// RegisterDriftFlagger подключает пометку клиента на фоновый пересчёт агрегата
// после ErrCustomerReconcileFailed. Без него дрейф чинится только вручную
// через POST /customers/updateTotals.
func (h *Handler) RegisterDriftFlagger(fn func(customerID string)) {
	h.flagDrift = fn
}

// Routes возвращает маршрутизатор со всеми эндпоинтами движка.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sales", h.withIdempotency(h.createSale))
	mux.HandleFunc("POST /customers/updateTotals", h.updateCustomerTotals)
	mux.HandleFunc("GET /vehicles/{id}", h.getVehicle)
	return mux
}

type saleRequest struct {
	CustomerID     string `json:"customer_id"`
	VehicleID      string `json:"vehicle_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	PaymentMethod  string `json:"payment_method"`
}

type saleResponse struct {
	SaleID           string `json:"sale_id"`
	Invoice          string `json:"invoice"`
	InvoiceNumber    int64  `json:"invoice_number"`
	VehicleID        string `json:"vehicle_id"`
	CustomerID       string `json:"customer_id"`
	Quantity         int32  `json:"quantity"`
	UnitPriceMinor   int64  `json:"unit_price_minor"`
	SubtotalMinor    int64  `json:"subtotal_minor"`
	TaxMinor         int64  `json:"tax_minor"`
	TotalMinor       int64  `json:"total_minor"`
	PaymentMethod    string `json:"payment_method"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	ReconcilePending bool   `json:"reconcile_pending,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type customerResponse struct {
	CustomerID      string `json:"customer_id"`
	Name            string `json:"name,omitempty"`
	TotalSpentMinor int64  `json:"total_spent_minor"`
	PurchaseCount   int64  `json:"purchase_count"`
	UpdatedAt       string `json:"updated_at"`
}

type vehicleResponse struct {
	VehicleID  string `json:"vehicle_id"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	PriceMinor int64  `json:"price_minor"`
	Stock      int32  `json:"stock"`
	Version    int64  `json:"version"`
	UpdatedAt  string `json:"updated_at"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	sale, err := h.coordinator.CheckoutLine(r.Context(), checkout.LineRequest{
		VehicleID:      req.VehicleID,
		CustomerID:     req.CustomerID,
		Quantity:       req.Quantity,
		UnitPriceMinor: req.UnitPriceMinor,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
	})

	reconcilePending := false
	if err != nil {
		if !errors.Is(err, domain.ErrCustomerReconcileFailed) {
			status, message := saleErrorStatus(err)
			writeJSON(w, status, errorResponse{Error: message})
			return
		}
		// Продажа записана, агрегат чинится отдельно: для клиента это успех.
		reconcilePending = true
		if h.flagDrift != nil {
			h.flagDrift(sale.CustomerID)
		}
	}

	writeJSON(w, http.StatusCreated, saleResponse{
		SaleID:           sale.ID,
		Invoice:          invoice.Format(sale.InvoiceNumber),
		InvoiceNumber:    sale.InvoiceNumber,
		VehicleID:        sale.VehicleID,
		CustomerID:       sale.CustomerID,
		Quantity:         sale.Quantity,
		UnitPriceMinor:   sale.UnitPriceMinor,
		SubtotalMinor:    sale.SubtotalMinor,
		TaxMinor:         sale.TaxMinor,
		TotalMinor:       sale.TotalMinor,
		PaymentMethod:    string(sale.PaymentMethod),
		Status:           string(sale.Status),
		CreatedAt:        sale.CreatedAt.Format(time.RFC3339Nano),
		ReconcilePending: reconcilePending,
	})
}

type updateTotalsRequest struct {
	CustomerID  string `json:"customer_id"`
	AmountMinor *int64 `json:"amount_minor,omitempty"`
}

func (h *Handler) updateCustomerTotals(w http.ResponseWriter, r *http.Request) {
	var req updateTotalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	var (
		aggregate domain.CustomerAggregate
		err       error
	)
	if req.AmountMinor != nil {
		aggregate, err = h.reconciler.IncrementCustomer(r.Context(), req.CustomerID, *req.AmountMinor)
	} else {
		aggregate, err = h.reconciler.RecomputeCustomer(r.Context(), req.CustomerID)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCustomerNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "customer not found"})
		case errors.Is(err, domain.ErrCustomerIDRequired), errors.Is(err, domain.ErrPriceNegative):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		default:
			h.logger.WithError(err).WithField("customer_id", req.CustomerID).Error("update totals failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, customerResponse{
		CustomerID:      aggregate.ID,
		Name:            aggregate.Name,
		TotalSpentMinor: aggregate.TotalSpentMinor,
		PurchaseCount:   aggregate.PurchaseCount,
		UpdatedAt:       aggregate.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.vehicles.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrVehicleNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "vehicle not found"})
			return
		}
		h.logger.WithError(err).WithField("vehicle_id", r.PathValue("id")).Error("get vehicle failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, vehicleResponse{
		VehicleID:  vehicle.ID,
		Make:       vehicle.Make,
		Model:      vehicle.Model,
		PriceMinor: vehicle.PriceMinor,
		Stock:      vehicle.Stock,
		Version:    vehicle.Version,
		UpdatedAt:  vehicle.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func saleErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidCheckout):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient stock"
	case errors.Is(err, domain.ErrVehicleNotFound):
		return http.StatusNotFound, "vehicle not found"
	case errors.Is(err, domain.ErrCustomerNotFound):
		return http.StatusNotFound, "customer not found"
	case errors.Is(err, domain.ErrInvoiceAssignmentFailed),
		errors.Is(err, domain.ErrLedgerWriteFailed):
		return http.StatusBadGateway, "checkout step failed, nothing was charged"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}
