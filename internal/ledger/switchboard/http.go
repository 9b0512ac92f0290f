package switchboard

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

// Handler is the thin JSON surface over Board.
type Handler struct {
	logger   *slog.Logger
	board    *Board
	validate *validator.Validate
}

// NewHandler constructs the switchboard HTTP handler.
func NewHandler(logger *slog.Logger, board *Board) *Handler {
	return &Handler{logger: logger, board: board, validate: validator.New()}
}

// MountRoutes attaches the switchboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/components", h.components)
	r.Get("/workflows", h.workflows)
	r.Get("/emergencies", h.emergencies)
	r.Get("/violations", h.violations)
	r.Post("/components/{name}", h.setComponent)
	r.Post("/workflows/{name}", h.setWorkflow)
	r.Post("/emergencies/{name}/activate", h.activateEmergency)
	r.Post("/emergencies/{name}/deactivate", h.deactivateEmergency)
	r.Get("/snapshots", h.listSnapshots)
	r.Post("/snapshots", h.createSnapshot)
	r.Post("/snapshots/{id}/rollback", h.rollback)
}

type setFlagRequest struct {
	Enabled   bool   `json:"enabled"`
	ActorID   int64  `json:"actor_id" validate:"required"`
	ActorName string `json:"actor_name"`
}

type emergencyRequest struct {
	CoveredWorkflows []string `json:"covered_workflows"`
	Reason           string   `json:"reason"`
	ActorID          int64    `json:"actor_id" validate:"required"`
	ActorName        string   `json:"actor_name"`
}

type snapshotRequest struct {
	Reason    string `json:"reason" validate:"required"`
	ActorID   int64  `json:"actor_id" validate:"required"`
	ActorName string `json:"actor_name"`
}

func (h *Handler) components(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.board.Components())
}

func (h *Handler) workflows(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.board.Workflows())
}

func (h *Handler) emergencies(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.board.Emergencies())
}

func (h *Handler) violations(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.board.Violations())
}

func (h *Handler) setComponent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	req, ok := h.decodeSetFlag(w, r)
	if !ok {
		return
	}
	actor := ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}
	var err error
	if req.Enabled {
		err = h.board.EnableComponent(r.Context(), name, actor)
	} else {
		err = h.board.DisableComponent(r.Context(), name, actor)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

func (h *Handler) setWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	req, ok := h.decodeSetFlag(w, r)
	if !ok {
		return
	}
	actor := ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}
	var err error
	if req.Enabled {
		err = h.board.EnableWorkflow(r.Context(), name, actor)
	} else {
		err = h.board.DisableWorkflow(r.Context(), name, actor)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

func (h *Handler) activateEmergency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req emergencyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}
	if err := h.board.ActivateEmergency(r.Context(), name, req.CoveredWorkflows, req.Reason, actor); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "active": true})
}

func (h *Handler) deactivateEmergency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req setFlagRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}
	if err := h.board.DeactivateEmergency(r.Context(), name, actor); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"name": name, "active": false})
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.board.ListSnapshots())
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap := h.board.CreateSnapshot(r.Context(), req.Reason, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName})
	httpx.JSON(w, http.StatusCreated, snap)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid snapshot id")
		return
	}
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.board.RollbackTo(r.Context(), id, req.Reason, ledgershared.UserRef{ID: req.ActorID, Name: req.ActorName}); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rolled_back_to": id})
}

func (h *Handler) decodeSetFlag(w http.ResponseWriter, r *http.Request) (setFlagRequest, bool) {
	var req setFlagRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return setFlagRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return setFlagRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownComponent), errors.Is(err, ErrUnknownWorkflow), errors.Is(err, ErrUnknownSnapshot):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("switchboard handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
