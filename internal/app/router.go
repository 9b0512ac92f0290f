package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ledgergate/ledgergate/internal/jobs"
	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/linkage"
	"github.com/ledgergate/ledgergate/internal/ledger/movement"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/repair"
	"github.com/ledgergate/ledgergate/internal/ledger/signals"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
	"github.com/ledgergate/ledgergate/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	GatewayHandler     *gateway.Handler
	MovementHandler    *movement.Handler
	PeriodsHandler     *periods.Handler
	RepairHandler      *repair.Handler
	SwitchboardHandler *switchboard.Handler
	IdempotencyHandler *idempotency.Handler
	LinkageHandler     *linkage.Handler
	QuarantineHandler  *quarantine.Handler
	SignalsHandler     *signals.Handler
	JobsHandler        *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with ledgergate defaults: the nine
// governance APIs mounted as JSON routes under /api/v1, plus health, jobs,
// and metrics endpoints.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.GatewayHandler != nil {
			r.Route("/journal-entries", params.GatewayHandler.MountRoutes)
		}
		if params.MovementHandler != nil {
			r.Route("/movements", params.MovementHandler.MountRoutes)
		}
		if params.PeriodsHandler != nil {
			r.Route("/periods", params.PeriodsHandler.MountRoutes)
		}
		if params.RepairHandler != nil {
			r.Route("/repair", params.RepairHandler.MountRoutes)
		}
		if params.SwitchboardHandler != nil {
			r.Route("/switchboard", params.SwitchboardHandler.MountRoutes)
		}
		if params.IdempotencyHandler != nil {
			r.Route("/idempotency", params.IdempotencyHandler.MountRoutes)
		}
		if params.LinkageHandler != nil {
			r.Route("/linkage", params.LinkageHandler.MountRoutes)
		}
		if params.QuarantineHandler != nil {
			r.Route("/quarantine", params.QuarantineHandler.MountRoutes)
		}
		if params.SignalsHandler != nil {
			r.Route("/signals", params.SignalsHandler.MountRoutes)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
