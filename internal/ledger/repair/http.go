package repair

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler is the thin JSON surface over the scanner and policy framework.
// Both endpoints are read-only: there is no execute route by design.
type Handler struct {
	logger  *slog.Logger
	scanner *Scanner
	policy  *RepairPolicyFramework
}

// NewHandler constructs the repair HTTP handler.
func NewHandler(logger *slog.Logger, scanner *Scanner, policy *RepairPolicyFramework) *Handler {
	return &Handler{logger: logger, scanner: scanner, policy: policy}
}

// MountRoutes attaches the repair routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/scan", h.scan)
	r.Post("/report", h.report)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var types []CorruptionType
	for _, raw := range r.URL.Query()["type"] {
		types = append(types, CorruptionType(raw))
	}
	report, err := h.scanner.Run(r.Context(), types)
	if err != nil {
		h.logger.Error("repair scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// report runs a fresh scan and maps every finding through the policy
// framework into an execution-blocked plan.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	scanReport, err := h.scanner.RunAll(r.Context())
	if err != nil {
		h.logger.Error("repair report", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, h.policy.CreateRepairReport(scanReport))
}
