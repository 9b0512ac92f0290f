package quarantine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the thin JSON surface over Store.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	validate *validator.Validate
}

// NewHandler constructs the quarantine HTTP handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store, validate: validator.New()}
}

// MountRoutes attaches the quarantine routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.query)
	r.Post("/", h.submit)
	r.Post("/{id}/release", h.resolveTo(StatusReleased))
	r.Post("/{id}/discard", h.resolveTo(StatusDiscarded))
}

type submitRequest struct {
	ModelName      string         `json:"model_name" validate:"required"`
	ObjectID       string         `json:"object_id" validate:"required"`
	CorruptionType string         `json:"corruption_type" validate:"required"`
	Confidence     float64        `json:"confidence" validate:"gte=0,lte=1"`
	Reason         string         `json:"reason" validate:"required"`
	Evidence       map[string]any `json:"evidence"`
	OriginalData   map[string]any `json:"original_data"`
	ActorID        int64          `json:"actor_id"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		CorruptionType: r.URL.Query().Get("corruption_type"),
		UnresolvedOnly: r.URL.Query().Get("unresolved") == "true",
	}
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "min_confidence must be a number")
			return
		}
		filter.MinConfidence = v
	}
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "older_than must be a Go duration")
			return
		}
		filter.OlderThan = time.Now().Add(-d)
	}
	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("quarantine query", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.store.Submit(r.Context(), Record{
		ModelName:      req.ModelName,
		ObjectID:       req.ObjectID,
		CorruptionType: req.CorruptionType,
		Confidence:     req.Confidence,
		Reason:         req.Reason,
		Evidence:       req.Evidence,
		OriginalData:   req.OriginalData,
		CreatedBy:      req.ActorID,
	})
	if err != nil {
		h.logger.Error("quarantine submit", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) resolveTo(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
			return
		}
		resolve := h.store.Release
		if to == StatusDiscarded {
			resolve = h.store.Discard
		}
		if err := resolve(r.Context(), id); err != nil {
			if errors.Is(err, ErrNotFound) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
				return
			}
			h.logger.Error("quarantine resolve", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": to})
	}
}
