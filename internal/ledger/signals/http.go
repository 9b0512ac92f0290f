package signals

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler receives domain events over HTTP from out-of-process domain
// services and feeds them into the router. In-process callers dispatch
// directly; this surface exists for the deployments where the CRM/sales/HR
// modules run as their own services.
type Handler struct {
	logger   *slog.Logger
	router   *Router
	validate *validator.Validate
}

// NewHandler constructs the signals HTTP handler.
func NewHandler(logger *slog.Logger, router *Router) *Handler {
	return &Handler{logger: logger, router: router, validate: validator.New()}
}

// MountRoutes attaches the signal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.dispatch)
}

type eventRequest struct {
	ModelName string         `json:"model_name" validate:"required"`
	ObjectID  string         `json:"object_id" validate:"required"`
	Operation string         `json:"operation" validate:"required,oneof=save delete"`
	Payload   map[string]any `json:"payload"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.router.Dispatch(r.Context(), Event{
		ModelName: req.ModelName,
		ObjectID:  req.ObjectID,
		Operation: req.Operation,
		Payload:   req.Payload,
	})
	if err != nil {
		// Only a critical handler's failure reaches here; non-critical
		// failures were absorbed into audit + quarantine by the router.
		h.logger.Error("signal dispatch", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnprocessableEntity, "Handler Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}
