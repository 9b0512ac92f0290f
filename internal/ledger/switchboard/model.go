// Package switchboard is the governance surface for component, workflow,
// and emergency feature flags, with snapshot-based rollback. Flags are
// data-driven registry state, not class-level constants, and the Board is
// an explicit injected component rather than a process-wide singleton.
package switchboard

import "time"

// ComponentFlag is a capability the system provides, e.g.
// "accounting_gateway_enforcement".
type ComponentFlag struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Default   bool   `json:"default"`
	Critical  bool   `json:"critical"`
	RiskLevel string `json:"risk_level"`
}

// WorkflowFlag is an end-to-end data-flow route gated on its component
// dependencies all being enabled.
type WorkflowFlag struct {
	Name                  string   `json:"name"`
	Enabled               bool     `json:"enabled"`
	ComponentDependencies []string `json:"component_dependencies,omitempty"`
	CorruptionPrevention  []string `json:"corruption_prevention,omitempty"`
	HighPriority          bool     `json:"high_priority"`
}

// EmergencyFlag is a global kill switch. When Active, it overrides every
// dependent workflow to disabled regardless of the workflow's own flag.
type EmergencyFlag struct {
	Name        string     `json:"name"`
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ActivatedBy int64      `json:"activated_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Violation records an attempted operation that the switchboard refused.
type Violation struct {
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// Snapshot captures every flag's state at a point in time so a rollback can
// atomically restore it.
type Snapshot struct {
	ID          int64                    `json:"id"`
	At          time.Time                `json:"at"`
	Reason      string                   `json:"reason"`
	Components  map[string]ComponentFlag `json:"components"`
	Workflows   map[string]WorkflowFlag  `json:"workflows"`
	Emergencies map[string]EmergencyFlag `json:"emergencies"`
}
