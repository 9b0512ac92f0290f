package movement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the thin JSON surface over Service.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the movement HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the movement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.process)
	r.Get("/products/{productID}", h.listForProduct)
	r.Get("/products/{productID}/balance", h.balance)
}

type processRequest struct {
	ProductID       int64           `json:"product_id" validate:"required"`
	QuantityChange  decimal.Decimal `json:"quantity_change" validate:"required"`
	MovementType    string          `json:"movement_type" validate:"required,oneof=in out return_in return_out adjustment"`
	SourceReference string          `json:"source_reference"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"required"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	DocumentNumber  string          `json:"document_number"`
	Notes           string          `json:"notes"`
	ActorID         int64           `json:"actor_id" validate:"required"`
	ActorName       string          `json:"actor_name"`
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	m, err := h.service.ProcessMovement(r.Context(), ProcessInput{
		ProductID:       req.ProductID,
		QuantityChange:  req.QuantityChange,
		MovementType:    Type(req.MovementType),
		SourceReference: req.SourceReference,
		IdempotencyKey:  req.IdempotencyKey,
		UnitCost:        req.UnitCost,
		DocumentNumber:  req.DocumentNumber,
		Notes:           req.Notes,
		Actor:           ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName},
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) listForProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	movements, err := h.service.ListMovements(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	b, err := h.service.GetBalance(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrWorkflowDisabled), errors.Is(err, gateway.ErrEmergencyDisabled):
		httpx.Problem(w, http.StatusForbidden, "Governance Refused", err.Error())
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", err.Error())
	case errors.Is(err, ErrOperationInProgress):
		httpx.Problem(w, http.StatusConflict, "Operation In Progress", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrServiceProduct), errors.Is(err, ErrIdempotencyKeyRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrBalanceNotFound), errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("movement handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
