package idempotency

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the operator-facing JSON surface over Store: probe, health,
// statistics, and on-demand cleanup. The begin/complete/fail lifecycle has no
// HTTP route - only the gateway and movement service drive it, in process.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler constructs the idempotency HTTP handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// MountRoutes attaches the idempotency routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/statistics", h.statistics)
	r.Get("/{operationType}/{key}", h.probe)
	r.Post("/cleanup", h.cleanup)
}

type cleanupRequest struct {
	BatchSize int    `json:"batch_size"`
	MaxAge    string `json:"max_age"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.GetHealth(r.Context()); err != nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unhealthy", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStatistics(r.Context())
	if err != nil {
		h.logger.Error("idempotency statistics", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) probe(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.store.Probe(r.Context(), chi.URLParam(r, "operationType"), chi.URLParam(r, "key"))
	if err != nil {
		h.logger.Error("idempotency probe", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if !outcome.Present {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no record for this key")
		return
	}
	httpx.JSON(w, http.StatusOK, outcome.Record)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	maxAge := 7 * 24 * time.Hour
	if req.MaxAge != "" {
		parsed, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "max_age must be a Go duration")
			return
		}
		maxAge = parsed
	}
	purged, err := h.store.Cleanup(r.Context(), time.Now(), req.BatchSize, maxAge)
	if err != nil {
		h.logger.Error("idempotency cleanup", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"purged": purged})
}
