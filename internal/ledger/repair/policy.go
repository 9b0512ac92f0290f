package repair

import "time"

// ConfidenceBand coarsens the scanner's continuous confidence float into
// HIGH/MEDIUM/LOW, so the policy table stays a small, readable map keyed on
// (corruption_type, band) rather than a function of a raw float.
type ConfidenceBand string

const (
	ConfidenceHigh   ConfidenceBand = "HIGH"
	ConfidenceMedium ConfidenceBand = "MEDIUM"
	ConfidenceLow    ConfidenceBand = "LOW"
)

// band coarsens a scanner's raw confidence score into the band the policy
// table is keyed on; issues and quarantine records keep the raw score.
func band(confidence float64) ConfidenceBand {
	switch {
	case confidence >= 0.85:
		return ConfidenceHigh
	case confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

type policyKey struct {
	corruptionType CorruptionType
	band           ConfidenceBand
}

// rule is one policy-table entry: what to recommend and how to describe the
// recommendation to an operator deciding whether to approve it.
type rule struct {
	action      Action
	duration    time.Duration
	risk        RiskLevel
	invariants  []string
	rollback    string
}

// RepairPolicyFramework maps (corruption_type, confidence) to a recommended
// action, a risk estimate, and the verification invariants a fix would have
// to preserve. It never executes anything - every Plan it
// builds carries ExecutionBlocked=true and ApprovalRequired=true.
type RepairPolicyFramework struct {
	rules map[policyKey]rule
}

// NewRepairPolicyFramework builds the framework with ledgergate's default
// policy table. Callers may register additional or overriding rules with
// RegisterRule before planning, e.g. to tighten risk levels for a specific
// deployment.
func NewRepairPolicyFramework() *RepairPolicyFramework {
	f := &RepairPolicyFramework{rules: make(map[policyKey]rule)}
	f.registerDefaults()
	return f
}

// RegisterRule overrides or adds a policy-table entry.
func (f *RepairPolicyFramework) RegisterRule(ct CorruptionType, b ConfidenceBand, action Action, risk RiskLevel, duration time.Duration, invariants []string, rollback string) {
	f.rules[policyKey{ct, b}] = rule{action: action, duration: duration, risk: risk, invariants: invariants, rollback: rollback}
}

func (f *RepairPolicyFramework) registerDefaults() {
	f.RegisterRule(CorruptionOrphanedJournalEntries, ConfidenceHigh, ActionRelink, RiskMedium, 15*time.Minute,
		[]string{"validate(source_module, source_model, source_id) = true after relink"},
		"restore original_data snapshot from the quarantine record")
	f.RegisterRule(CorruptionOrphanedJournalEntries, ConfidenceMedium, ActionQuarantine, RiskLow, 5*time.Minute,
		[]string{"entry is excluded from normal reads while quarantined"},
		"release from quarantine; no data was altered")
	f.RegisterRule(CorruptionOrphanedJournalEntries, ConfidenceLow, ActionQuarantine, RiskLow, 5*time.Minute,
		[]string{"entry is excluded from normal reads while quarantined"},
		"release from quarantine; no data was altered")

	f.RegisterRule(CorruptionNegativeStock, ConfidenceHigh, ActionAdjustment, RiskHigh, 30*time.Minute,
		[]string{"stock(product) >= 0 after the adjustment posts", "adjustment movement is itself audited"},
		"reverse the adjustment movement through a second, equal and opposite adjustment")
	f.RegisterRule(CorruptionNegativeStock, ConfidenceMedium, ActionQuarantine, RiskMedium, 10*time.Minute,
		[]string{"product balance is flagged pending review"},
		"release from quarantine; no data was altered")
	f.RegisterRule(CorruptionNegativeStock, ConfidenceLow, ActionQuarantine, RiskLow, 10*time.Minute,
		[]string{"product balance is flagged pending review"},
		"release from quarantine; no data was altered")

	f.RegisterRule(CorruptionUnbalancedJournalEntries, ConfidenceHigh, ActionRebuild, RiskCritical, time.Hour,
		[]string{"sum(lines.debit) = sum(lines.credit) after rebuild", "entry's own audit history is preserved"},
		"restore original_data snapshot; rebuilt lines are themselves reversible")
	f.RegisterRule(CorruptionUnbalancedJournalEntries, ConfidenceMedium, ActionQuarantine, RiskHigh, 15*time.Minute,
		[]string{"entry is excluded from normal reads while quarantined"},
		"release from quarantine; no data was altered")
	f.RegisterRule(CorruptionUnbalancedJournalEntries, ConfidenceLow, ActionQuarantine, RiskMedium, 15*time.Minute,
		[]string{"entry is excluded from normal reads while quarantined"},
		"release from quarantine; no data was altered")

	f.RegisterRule(CorruptionMultipleActiveSingleton, ConfidenceHigh, ActionRelink, RiskHigh, 20*time.Minute,
		[]string{"exactly one row remains active for the entity after relink"},
		"restore the previously-active row id from evidence.active_ids")
	f.RegisterRule(CorruptionMultipleActiveSingleton, ConfidenceMedium, ActionQuarantine, RiskMedium, 10*time.Minute,
		[]string{"extra active rows are flagged pending review"},
		"release from quarantine; no data was altered")
	f.RegisterRule(CorruptionMultipleActiveSingleton, ConfidenceLow, ActionQuarantine, RiskLow, 10*time.Minute,
		[]string{"extra active rows are flagged pending review"},
		"release from quarantine; no data was altered")
}

// PlanFor builds the Plan for a single issue, falling back to the most
// conservative recommendation (quarantine, high risk) when no rule matches
// an unrecognised corruption type.
func (f *RepairPolicyFramework) PlanFor(issue Issue) Plan {
	r, ok := f.rules[policyKey{issue.CorruptionType, band(issue.Confidence)}]
	if !ok {
		r = rule{
			action:     ActionQuarantine,
			duration:   15 * time.Minute,
			risk:       RiskHigh,
			invariants: []string{"issue is excluded from normal reads while quarantined"},
			rollback:   "release from quarantine; no data was altered",
		}
	}
	return Plan{
		Issue:                  issue,
		RecommendedAction:      r.action,
		EstimatedDuration:      r.duration,
		RiskLevel:              r.risk,
		VerificationInvariants: r.invariants,
		RollbackStrategy:       r.rollback,
		ExecutionBlocked:       true,
		ApprovalRequired:       true,
	}
}

// RepairReport is the create_repair_report output: one Plan
// per issue in the source CorruptionReport, plus the report's own metadata.
type RepairReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Plans       []Plan    `json:"plans"`
}

// CreateRepairReport turns a CorruptionReport into a RepairReport: every
// issue gets exactly one plan, and every plan is execution-blocked and
// approval-required. This framework never executes a fix - the repair
// execution engine is explicitly out of scope.
func (f *RepairPolicyFramework) CreateRepairReport(report CorruptionReport) RepairReport {
	out := RepairReport{GeneratedAt: report.GeneratedAt}
	for _, res := range report.Results {
		for _, issue := range res.Issues {
			out.Plans = append(out.Plans, f.PlanFor(issue))
		}
	}
	return out
}
