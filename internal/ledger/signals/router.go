// Package signals is the Signal Router: a thin dispatcher that receives
// domain events (save/delete of business rows external to this cluster)
// and routes them to governed handlers. A governed handler is an explicit
// wrapper value built at registration time from the inner handler plus its
// Policy; registration is data-driven rather than annotation-driven.
package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
)

// Event is one domain event the router dispatches: a business-model save or
// delete external to this cluster.
type Event struct {
	ModelName string
	ObjectID  string
	Operation string // "save" or "delete"
	Payload   map[string]any
}

// Handler is the inner, ungoverned unit of work a registration wraps. It
// performs whatever persistent side effect the event requires (typically a
// call into the Accounting Gateway or Movement Service) and returns an error
// on failure.
type Handler func(ctx context.Context, e Event) error

// Policy describes how a registered handler's governed wrapper behaves:
// which workflow gates it, and whether its errors propagate to the caller
// or are absorbed into audit + quarantine.
type Policy struct {
	Workflow string
	// Critical handlers propagate their error to the router's caller
	// instead of absorbing it.
	Critical bool
	// QuarantineOnError, when true on a non-critical handler, submits the
	// triggering row to the Quarantine Store on any handler error. It is
	// off unless the registration sets it; the failure is then only
	// audited.
	QuarantineOnError bool
}

// registration is one governed handler: its inner Handler plus the Policy
// that wraps it, keyed by the event it was registered for.
type registration struct {
	modelName string
	operation string
	handler   Handler
	policy    Policy
}

// Router dispatches domain events to their governed handlers. Registration
// is data-driven rather than a
// compiled table of decorated functions.
type Router struct {
	board        *switchboard.Board
	trail        audit.Trail
	quarantine   *quarantine.Store
	registrations []registration
	now          func() time.Time
}

// NewRouter builds a Router. quarantineStore may be nil in deployments that
// never quarantine signal failures (every handler critical=true).
func NewRouter(board *switchboard.Board, trail audit.Trail, quarantineStore *quarantine.Store) *Router {
	return &Router{board: board, trail: trail, quarantine: quarantineStore, now: time.Now}
}

// Register adds a governed handler for (modelName, operation).
func (r *Router) Register(modelName, operation string, h Handler, policy Policy) {
	r.registrations = append(r.registrations, registration{modelName: modelName, operation: operation, handler: h, policy: policy})
}

// Dispatch routes e to every handler registered for its (ModelName,
// Operation) pair, running the three-step governed wrapper for each:
//
//  1. Check the handler's workflow flag; skip without effect if disabled.
//  2. Run the inner handler.
//  3. On error: audit it, quarantine the triggering row when the policy
//     sets QuarantineOnError, and either propagate (critical) or absorb
//     (non-critical) the error.
//
// Dispatch itself never returns an error for a non-critical handler's
// failure - that failure was already recorded and absorbed. It returns the
// first critical handler's error, if any.
func (r *Router) Dispatch(ctx context.Context, e Event) error {
	var firstCritical error
	for _, reg := range r.registrations {
		if reg.modelName != e.ModelName || reg.operation != e.Operation {
			continue
		}
		if reg.policy.Workflow != "" && !r.board.IsWorkflowEnabled(reg.policy.Workflow) {
			r.board.RecordViolation(ctx, "workflow_disabled", map[string]any{
				"workflow": reg.policy.Workflow, "model": e.ModelName, "object_id": e.ObjectID,
			})
			continue
		}
		if err := reg.handler(ctx, e); err != nil {
			r.recordFailure(ctx, e, reg, err)
			if reg.policy.Critical && firstCritical == nil {
				firstCritical = fmt.Errorf("signals: %s.%s handler failed: %w", e.ModelName, e.Operation, err)
			}
		}
	}
	return firstCritical
}

func (r *Router) recordFailure(ctx context.Context, e Event, reg registration, cause error) {
	at := r.now()
	if r.trail != nil {
		_ = r.trail.Record(ctx, audit.Entry{
			ModelName: e.ModelName,
			ObjectID:  e.ObjectID,
			Operation: "signal." + e.Operation + ".failed",
			AfterData: map[string]any{"error": cause.Error(), "workflow": reg.policy.Workflow},
			At:        at,
		})
	}
	if !reg.policy.Critical && reg.policy.QuarantineOnError && r.quarantine != nil {
		_, _ = r.quarantine.Submit(ctx, quarantine.Record{
			ModelName:      e.ModelName,
			ObjectID:       e.ObjectID,
			CorruptionType: "SIGNAL_HANDLER_FAILURE",
			Confidence:     0.5,
			Reason:         cause.Error(),
			Evidence:       map[string]any{"operation": e.Operation, "workflow": reg.policy.Workflow},
			OriginalData:   e.Payload,
			QuarantinedAt:  at,
		})
	}
}
