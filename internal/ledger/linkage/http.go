package linkage

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the operator surface over the source-linkage contract: inspect
// the allowlist, scan the ledger for orphans, and backfill a repaired
// triple (dry-run aware).
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	entries  EntryLookup
	backfill Backfill
	trail    audit.Trail
	validate *validator.Validate
}

// NewHandler constructs the linkage HTTP handler.
func NewHandler(logger *slog.Logger, registry *Registry, entries EntryLookup, backfill Backfill, trail audit.Trail) *Handler {
	return &Handler{logger: logger, registry: registry, entries: entries, backfill: backfill, trail: trail, validate: validator.New()}
}

// MountRoutes attaches the linkage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/allowlist", h.allowlist)
	r.Get("/orphans", h.orphans)
	r.Post("/backfill", h.runBackfill)
}

type backfillRequest struct {
	EntryID   int64     `json:"entry_id" validate:"required"`
	Module    string    `json:"module" validate:"required"`
	Model     string    `json:"model" validate:"required"`
	SourceID  uuid.UUID `json:"source_id" validate:"required"`
	DryRun    bool      `json:"dry_run"`
	ActorID   int64     `json:"actor_id" validate:"required"`
	ActorName string    `json:"actor_name"`
}

func (h *Handler) allowlist(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": h.registry.Allowed()})
}

func (h *Handler) orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.registry.ScanOrphans(r.Context(), h.entries)
	if err != nil {
		h.logger.Error("linkage orphan scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(orphans), "orphans": orphans})
}

func (h *Handler) runBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	triple := ledgershared.Triple{Module: req.Module, Model: req.Model, ID: req.SourceID}
	if err := h.registry.BackfillOrphan(r.Context(), h.backfill, req.EntryID, triple, req.DryRun); err != nil {
		if errors.Is(err, ErrInvalidSourceLinkage) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Source Linkage", err.Error())
			return
		}
		h.logger.Error("linkage backfill", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if !req.DryRun && h.trail != nil {
		_ = h.trail.Record(r.Context(), audit.Entry{
			ModelName: "journal_entry",
			ObjectID:  strconv.FormatInt(req.EntryID, 10),
			Operation: "linkage.backfill",
			ActorID:   req.ActorID,
			AfterData: map[string]any{"source": triple.String()},
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry_id": req.EntryID, "source": triple, "dry_run": req.DryRun})
}
