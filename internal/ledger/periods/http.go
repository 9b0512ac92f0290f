package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the thin JSON surface over the period-lock engine.
type Handler struct {
	logger   *slog.Logger
	repo     Repository
	service  *Service
	counter  EntryLockCounter
	validate *validator.Validate
}

// NewHandler constructs the periods HTTP handler.
func NewHandler(logger *slog.Logger, repo Repository, service *Service, counter EntryLockCounter) *Handler {
	return &Handler{logger: logger, repo: repo, service: service, counter: counter, validate: validator.New()}
}

// MountRoutes attaches the period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/close", h.close)
	r.Get("/{id}/compliance", h.compliance)
	r.Post("/enforce-locks", h.enforceLocks)
}

type closeRequest struct {
	ActorID   int64  `json:"actor_id" validate:"required"`
	ActorName string `json:"actor_name"`
}

type enforceLocksRequest struct {
	SourceModule string `json:"source_module" validate:"required"`
	SourceModel  string `json:"source_model" validate:"required"`
	ActorID      int64  `json:"actor_id" validate:"required"`
	ActorName    string `json:"actor_name"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	periods, err := h.repo.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period id")
		return
	}
	period, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period id")
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	summary, err := h.service.ClosePeriod(r.Context(), id, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) compliance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period id")
		return
	}
	report, err := ValidatePeriodLockCompliance(r.Context(), h.counter, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) enforceLocks(w http.ResponseWriter, r *http.Request) {
	var req enforceLocksRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	summary, err := h.service.EnforcePeriodLocksForWorkflow(r.Context(), req.SourceModule, req.SourceModel,
		ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoOpenPeriod):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrPeriodClosed):
		httpx.Problem(w, http.StatusConflict, "Period Closed", err.Error())
	case errors.Is(err, ErrInvalidPeriodRange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("periods handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
