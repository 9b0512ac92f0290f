package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the thin JSON surface over Service. No business logic lives
// here: requests decode, validate structurally, and delegate.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the gateway HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches the journal-entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/", h.create)
	r.Post("/{id}/reversal", h.reverse)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/cancel", h.cancel)
	r.Delete("/{id}", h.delete)
}

type lineRequest struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	CostCenter  string          `json:"cost_center"`
	Project     string          `json:"project"`
}

type createEntryRequest struct {
	SourceModule      string          `json:"source_module" validate:"required"`
	SourceModel       string          `json:"source_model" validate:"required"`
	SourceID          uuid.UUID       `json:"source_id" validate:"required"`
	Lines             []lineRequest   `json:"lines" validate:"required,min=2,dive"`
	IdempotencyKey    string          `json:"idempotency_key" validate:"required"`
	ActorID           int64           `json:"actor_id" validate:"required"`
	ActorName         string          `json:"actor_name"`
	EntryType         string          `json:"entry_type"`
	Description       string          `json:"description"`
	Reference         string          `json:"reference"`
	ReferenceType     string          `json:"reference_type"`
	ReferenceID       string          `json:"reference_id"`
	Date              string          `json:"date" validate:"required"`
	FinancialCategory string          `json:"financial_category"`
	FinancialSubcat   string          `json:"financial_subcategory"`
	AutoPost          *bool           `json:"auto_post"`
}

type reverseEntryRequest struct {
	Reason         string           `json:"reason" validate:"required"`
	IdempotencyKey string           `json:"idempotency_key" validate:"required"`
	ActorID        int64            `json:"actor_id" validate:"required"`
	ActorName      string           `json:"actor_name"`
	PartialAmount  *decimal.Decimal `json:"partial_amount"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}

	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{
			AccountCode: l.AccountCode,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
			CostCenter:  l.CostCenter,
			Project:     l.Project,
		})
	}

	entryType := EntryType(req.EntryType)
	if entryType == "" {
		entryType = EntryTypeAutomatic
	}

	entry, err := h.service.CreateJournalEntry(r.Context(), CreateEntryInput{
		Source:            ledgershared.Triple{Module: req.SourceModule, Model: req.SourceModel, ID: req.SourceID},
		Lines:             lines,
		IdempotencyKey:    req.IdempotencyKey,
		Actor:             ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName},
		EntryType:         entryType,
		Description:       req.Description,
		Reference:         req.Reference,
		ReferenceType:     req.ReferenceType,
		ReferenceID:       req.ReferenceID,
		Date:              date,
		FinancialCategory: req.FinancialCategory,
		FinancialSubcat:   req.FinancialSubcat,
		AutoPost:          req.AutoPost,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req reverseEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CreateReversalEntry(r.Context(), ReverseEntryInput{
		OriginalEntryID: id,
		Actor:           ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName},
		Reason:          req.Reason,
		IdempotencyKey:  req.IdempotencyKey,
		PartialAmount:   req.PartialAmount,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type actorRequest struct {
	ActorID   int64  `json:"actor_id" validate:"required"`
	ActorName string `json:"actor_name"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.PostEntry(r.Context(), id, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CancelEntry(r.Context(), id, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.DeleteEntry(r.Context(), id, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps the gateway error taxonomy onto HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWorkflowDisabled), errors.Is(err, ErrEmergencyDisabled):
		httpx.Problem(w, http.StatusForbidden, "Governance Refused", err.Error())
	case errors.Is(err, ErrInvalidSourceLinkage):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Source Linkage", err.Error())
	case errors.Is(err, ErrOperationInProgress):
		httpx.Problem(w, http.StatusConflict, "Operation In Progress", err.Error())
	case errors.Is(err, ErrNoOpenPeriod), errors.Is(err, ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Period Locked", err.Error())
	case errors.Is(err, ErrUnbalancedEntry), errors.Is(err, ErrTooFewLines),
		errors.Is(err, ErrInvalidLine), errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrIdempotencyKeyRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrPostedEntryImmutable):
		httpx.Problem(w, http.StatusConflict, "Posted Entry Immutable", err.Error())
	case errors.Is(err, ErrReversalNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Reversal Not Allowed", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("gateway handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
