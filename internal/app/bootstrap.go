package app

import (
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/linkage"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
)

// Component and workflow names registered at bootstrap. The workflow names
// are the ones the gateway and movement service gate on; keeping the
// constants here, next to the registration, keeps the bootstrap and the
// service-side gates from drifting apart silently.
const (
	ComponentAccountingGateway = "accounting_gateway_enforcement"
	ComponentMovementService   = "movement_service_enforcement"
	ComponentIdempotencyStore  = "idempotency_store"
	ComponentSourceLinkage     = "source_linkage_validation"
	ComponentAuditTrail        = "audit_trail"

	WorkflowPostJournalEntry    = "accounting.post_journal_entry"
	WorkflowReverseJournalEntry = "accounting.reverse_journal_entry"
	WorkflowProcessMovement     = "inventory.process_movement"

	EmergencyDisableAccounting = "emergency_disable_accounting"
	EmergencyDisableInventory  = "emergency_disable_inventory"
)

// BuildSwitchboard registers the governance flags every deployment starts
// from: five components, three workflows, two emergency kill switches. The
// high-priority set comes from configuration (it is switchboard state,
// not code); everything starts enabled and operators narrow from there.
func BuildSwitchboard(cfg *Config, trail audit.Trail) *switchboard.Board {
	board := switchboard.New(trail)

	highPriority := make(map[string]bool)
	for _, name := range SplitList(cfg.HighPriorityWorkflows) {
		highPriority[name] = true
	}

	for _, c := range []switchboard.ComponentFlag{
		{Name: ComponentAccountingGateway, Enabled: true, Default: true, Critical: true, RiskLevel: "critical"},
		{Name: ComponentMovementService, Enabled: true, Default: true, Critical: true, RiskLevel: "high"},
		{Name: ComponentIdempotencyStore, Enabled: true, Default: true, Critical: true, RiskLevel: "critical"},
		{Name: ComponentSourceLinkage, Enabled: true, Default: true, Critical: false, RiskLevel: "medium"},
		{Name: ComponentAuditTrail, Enabled: true, Default: true, Critical: true, RiskLevel: "critical"},
	} {
		board.RegisterComponent(c)
	}

	board.RegisterWorkflow(switchboard.WorkflowFlag{
		Name:    WorkflowPostJournalEntry,
		Enabled: true,
		ComponentDependencies: []string{
			ComponentAccountingGateway, ComponentIdempotencyStore, ComponentSourceLinkage, ComponentAuditTrail,
		},
		CorruptionPrevention: []string{"ORPHANED_JOURNAL_ENTRIES", "UNBALANCED_JOURNAL_ENTRIES"},
		HighPriority:         highPriority[WorkflowPostJournalEntry],
	})
	board.RegisterWorkflow(switchboard.WorkflowFlag{
		Name:    WorkflowReverseJournalEntry,
		Enabled: true,
		ComponentDependencies: []string{
			ComponentAccountingGateway, ComponentIdempotencyStore, ComponentAuditTrail,
		},
		CorruptionPrevention: []string{"UNBALANCED_JOURNAL_ENTRIES"},
		HighPriority:         highPriority[WorkflowReverseJournalEntry],
	})
	board.RegisterWorkflow(switchboard.WorkflowFlag{
		Name:    WorkflowProcessMovement,
		Enabled: true,
		ComponentDependencies: []string{
			ComponentMovementService, ComponentIdempotencyStore, ComponentAuditTrail,
		},
		CorruptionPrevention: []string{"NEGATIVE_STOCK"},
		HighPriority:         highPriority[WorkflowProcessMovement],
	})

	board.RegisterEmergency(EmergencyDisableAccounting)
	board.RegisterEmergency(EmergencyDisableInventory)

	return board
}

// BuildLinkage seeds the source allowlist from configuration. Each entry is
// "module.Model" or "module.Model=table_name"; without an explicit table the
// existence check targets the snake_case plural of the model name
// (students.StudentFee -> student_fees).
func BuildLinkage(cfg *Config, pool *pgxpool.Pool) (*linkage.Registry, error) {
	registry := linkage.NewRegistry(nil)
	for _, entry := range SplitList(cfg.AllowlistSources) {
		pair, table := entry, ""
		if i := strings.IndexByte(entry, '='); i >= 0 {
			pair, table = entry[:i], entry[i+1:]
		}
		if table == "" {
			_, model, ok := strings.Cut(pair, ".")
			if !ok {
				continue
			}
			table = snakeCase(model) + "s"
		}
		existence, err := linkage.NewTableExistence(pool, table)
		if err != nil {
			return nil, err
		}
		registry.Allow(pair, existence)
	}
	return registry, nil
}

// BuildRetryPolicy turns the LEDGER_RETRY_*/LEDGER_CIRCUIT_* settings into
// the explicit policy object the gateway and the movement service consume.
// Unparseable delay entries are skipped; an empty schedule falls back to
// the default 1s/3s/9s.
func BuildRetryPolicy(cfg *Config) ledgershared.RetryPolicy {
	policy := ledgershared.DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	var delays []time.Duration
	for _, raw := range SplitList(cfg.RetryDelays) {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			continue
		}
		delays = append(delays, d)
	}
	if len(delays) > 0 {
		policy.Delays = delays
	}
	policy.RetryFailedOutcomes = cfg.RetryFailedOutcomes
	policy.Breaker = ledgershared.NewCircuitBreaker("ledger_gateway", cfg.CircuitFailureThreshold, cfg.CircuitRecoveryTimeout)
	return policy
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
