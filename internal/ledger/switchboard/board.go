package switchboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// ErrUnknownComponent indicates a workflow depends on a component that was
// never registered.
var ErrUnknownComponent = errors.New("switchboard: unknown component")

// ErrUnknownWorkflow indicates an operation referenced a workflow name that
// was never registered.
var ErrUnknownWorkflow = errors.New("switchboard: unknown workflow")

// ErrUnknownSnapshot indicates rollback referenced a snapshot id that does
// not exist.
var ErrUnknownSnapshot = errors.New("switchboard: unknown snapshot")

// Board is the single, explicit, long-lived registry for every flag
// namespace. There is no process-wide mutable flag state: callers hold a
// reference to one Board instance resolved at startup, and tests construct
// their own.
type Board struct {
	mu          sync.RWMutex
	components  map[string]ComponentFlag
	workflows   map[string]WorkflowFlag
	emergencies map[string]EmergencyFlag
	emergencyCoverage map[string][]string
	violations  []Violation
	snapshots   []Snapshot
	nextSnap    int64
	audit       audit.Trail
	now         func() time.Time

	emergencyHook func(e EmergencyChange)
}

// EmergencyChange describes one activation or deactivation, for the
// cross-instance broadcast hook.
type EmergencyChange struct {
	Name             string   `json:"name"`
	Active           bool     `json:"active"`
	CoveredWorkflows []string `json:"covered_workflows,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	ActorID          int64    `json:"actor_id"`
}

// SetEmergencyHook registers fn to be invoked, outside the board's lock,
// after every emergency activation or deactivation. Used by the redis
// broadcaster to fan the change out to other ledgergated instances. Must be
// called during wiring, before the board is shared across goroutines.
func (b *Board) SetEmergencyHook(fn func(e EmergencyChange)) {
	b.emergencyHook = fn
}

// New builds an empty Board. Components, workflows, and emergencies are
// registered via RegisterComponent/RegisterWorkflow/RegisterEmergency at
// startup, from configuration rather than compiled-in literals.
func New(trail audit.Trail) *Board {
	return &Board{
		components:  make(map[string]ComponentFlag),
		workflows:   make(map[string]WorkflowFlag),
		emergencies: make(map[string]EmergencyFlag),
		audit:       trail,
		now:         time.Now,
	}
}

// RegisterComponent adds or replaces a component flag definition.
func (b *Board) RegisterComponent(c ComponentFlag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.Enabled && c.Default {
		c.Enabled = c.Default
	}
	b.components[c.Name] = c
}

// RegisterWorkflow adds or replaces a workflow flag definition.
func (b *Board) RegisterWorkflow(w WorkflowFlag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workflows[w.Name] = w
}

// RegisterEmergency declares an emergency kill switch name (inactive until
// ActivateEmergency is called).
func (b *Board) RegisterEmergency(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.emergencies[name]; !ok {
		b.emergencies[name] = EmergencyFlag{Name: name}
	}
}

// IsComponentEnabled reports whether name is currently enabled.
func (b *Board) IsComponentEnabled(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.components[name]
	return ok && c.Enabled
}

// IsWorkflowEnabled reports whether workflow name may run: its own flag must
// be enabled and every component it depends on must be enabled. Emergencies
// are not consulted here; EmergencyCovering reports those.
func (b *Board) IsWorkflowEnabled(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isWorkflowEnabledLocked(name)
}

func (b *Board) isWorkflowEnabledLocked(name string) bool {
	w, ok := b.workflows[name]
	if !ok || !w.Enabled {
		return false
	}
	for _, dep := range w.ComponentDependencies {
		c, ok := b.components[dep]
		if !ok || !c.Enabled {
			return false
		}
	}
	return true
}

// EmergencyCovering returns the name of the first active emergency flag
// covering workflow, or "" if none is active. Coverage is explicit: the
// workflows an emergency disables are supplied when it is activated.
func (b *Board) EmergencyCovering(workflow string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, covered := range b.emergencyCoverage {
		if !b.emergencies[name].Active {
			continue
		}
		for _, w := range covered {
			if w == workflow {
				return name
			}
		}
	}
	return ""
}

// EnableComponent turns a component on, auditing the change.
func (b *Board) EnableComponent(ctx context.Context, name string, actor ledgershared.Principal) error {
	return b.setComponent(ctx, name, true, actor)
}

// DisableComponent turns a component off. A critical component may still be
// disabled explicitly; criticality only affects operator warnings, not the
// mechanism.
func (b *Board) DisableComponent(ctx context.Context, name string, actor ledgershared.Principal) error {
	return b.setComponent(ctx, name, false, actor)
}

func (b *Board) setComponent(ctx context.Context, name string, enabled bool, actor ledgershared.Principal) error {
	b.mu.Lock()
	c, ok := b.components[name]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownComponent
	}
	before := c.Enabled
	c.Enabled = enabled
	b.components[name] = c
	b.mu.Unlock()
	b.auditFlagChange(ctx, "component", name, before, enabled, actor)
	return nil
}

// EnableWorkflow turns a workflow on.
func (b *Board) EnableWorkflow(ctx context.Context, name string, actor ledgershared.Principal) error {
	return b.setWorkflow(ctx, name, true, actor)
}

// DisableWorkflow turns a workflow off.
func (b *Board) DisableWorkflow(ctx context.Context, name string, actor ledgershared.Principal) error {
	return b.setWorkflow(ctx, name, false, actor)
}

func (b *Board) setWorkflow(ctx context.Context, name string, enabled bool, actor ledgershared.Principal) error {
	b.mu.Lock()
	w, ok := b.workflows[name]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownWorkflow
	}
	before := w.Enabled
	w.Enabled = enabled
	b.workflows[name] = w
	b.mu.Unlock()
	b.auditFlagChange(ctx, "workflow", name, before, enabled, actor)
	return nil
}

// ActivateEmergency flips a kill switch on, immediately overriding every
// workflow its coverage list names, regardless of that workflow's own flag.
func (b *Board) ActivateEmergency(ctx context.Context, name string, coveredWorkflows []string, reason string, actor ledgershared.Principal) error {
	now := b.now()
	b.mu.Lock()
	if b.emergencyCoverage == nil {
		b.emergencyCoverage = make(map[string][]string)
	}
	b.emergencyCoverage[name] = coveredWorkflows
	b.emergencies[name] = EmergencyFlag{Name: name, Active: true, ActivatedAt: &now, ActivatedBy: actor.GetID(), Reason: reason}
	b.mu.Unlock()
	b.auditFlagChange(ctx, "emergency", name, false, true, actor)
	if b.emergencyHook != nil {
		b.emergencyHook(EmergencyChange{Name: name, Active: true, CoveredWorkflows: coveredWorkflows, Reason: reason, ActorID: actor.GetID()})
	}
	return nil
}

// DeactivateEmergency clears a kill switch.
func (b *Board) DeactivateEmergency(ctx context.Context, name string, actor ledgershared.Principal) error {
	b.mu.Lock()
	e, ok := b.emergencies[name]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	e.Active = false
	b.emergencies[name] = e
	b.mu.Unlock()
	b.auditFlagChange(ctx, "emergency", name, true, false, actor)
	if b.emergencyHook != nil {
		b.emergencyHook(EmergencyChange{Name: name, Active: false, ActorID: actor.GetID()})
	}
	return nil
}

// RecordViolation appends an attempted, refused operation to the in-memory
// violation log and audits it.
func (b *Board) RecordViolation(ctx context.Context, violationType string, details map[string]any) {
	v := Violation{Type: violationType, Details: details, At: b.now()}
	b.mu.Lock()
	b.violations = append(b.violations, v)
	b.mu.Unlock()
	if b.audit != nil {
		_ = b.audit.Record(ctx, audit.Entry{
			ModelName: "switchboard",
			ObjectID:  violationType,
			Operation: "switchboard.violation",
			AfterData: details,
			At:        v.At,
		})
	}
}

// CreateSnapshot captures every flag's current state.
func (b *Board) CreateSnapshot(ctx context.Context, reason string, actor ledgershared.Principal) Snapshot {
	b.mu.Lock()
	b.nextSnap++
	snap := Snapshot{
		ID:          b.nextSnap,
		At:          b.now(),
		Reason:      reason,
		Components:  cloneComponents(b.components),
		Workflows:   cloneWorkflows(b.workflows),
		Emergencies: cloneEmergencies(b.emergencies),
	}
	b.snapshots = append(b.snapshots, snap)
	b.mu.Unlock()
	if b.audit != nil {
		_ = b.audit.Record(ctx, audit.Entry{
			ModelName: "switchboard_snapshot",
			ObjectID:  fmt.Sprintf("%d", snap.ID),
			Operation: "switchboard.snapshot",
			ActorID:   actor.GetID(),
			AfterData: map[string]any{"reason": reason},
			At:        snap.At,
		})
	}
	return snap
}

// RollbackTo atomically restores every flag to the state recorded in
// snapshotID, auditing the rollback.
func (b *Board) RollbackTo(ctx context.Context, snapshotID int64, reason string, actor ledgershared.Principal) error {
	b.mu.Lock()
	var target *Snapshot
	for i := range b.snapshots {
		if b.snapshots[i].ID == snapshotID {
			target = &b.snapshots[i]
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return ErrUnknownSnapshot
	}
	b.components = cloneComponents(target.Components)
	b.workflows = cloneWorkflows(target.Workflows)
	b.emergencies = cloneEmergencies(target.Emergencies)
	b.mu.Unlock()
	if b.audit != nil {
		_ = b.audit.Record(ctx, audit.Entry{
			ModelName: "switchboard_snapshot",
			ObjectID:  fmt.Sprintf("%d", snapshotID),
			Operation: "switchboard.rollback",
			ActorID:   actor.GetID(),
			AfterData: map[string]any{"reason": reason},
			At:        b.now(),
		})
	}
	return nil
}

// TemporaryOverride enables/disables a flag for the duration of fn, always
// reverting on return, including when fn panics or returns an error.
func (b *Board) TemporaryOverride(ctx context.Context, namespace, name string, value bool, reason string, actor ledgershared.Principal, fn func() error) error {
	var restore func()
	switch namespace {
	case "component":
		b.mu.RLock()
		prev := b.components[name].Enabled
		b.mu.RUnlock()
		if err := b.setComponent(ctx, name, value, actor); err != nil {
			return err
		}
		restore = func() { _ = b.setComponent(ctx, name, prev, actor) }
	case "workflow":
		b.mu.RLock()
		prev := b.workflows[name].Enabled
		b.mu.RUnlock()
		if err := b.setWorkflow(ctx, name, value, actor); err != nil {
			return err
		}
		restore = func() { _ = b.setWorkflow(ctx, name, prev, actor) }
	default:
		return fmt.Errorf("switchboard: unknown namespace %q", namespace)
	}
	defer restore()
	return fn()
}

func (b *Board) auditFlagChange(ctx context.Context, namespace, name string, before, after bool, actor ledgershared.Principal) {
	if b.audit == nil {
		return
	}
	actorID := int64(0)
	if actor != nil {
		actorID = actor.GetID()
	}
	_ = b.audit.Record(ctx, audit.Entry{
		ModelName:  namespace + "_flag",
		ObjectID:   name,
		Operation:  "switchboard.set",
		ActorID:    actorID,
		BeforeData: map[string]any{"enabled": before},
		AfterData:  map[string]any{"enabled": after},
		At:         b.now(),
	})
}

func cloneComponents(m map[string]ComponentFlag) map[string]ComponentFlag {
	out := make(map[string]ComponentFlag, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneWorkflows(m map[string]WorkflowFlag) map[string]WorkflowFlag {
	out := make(map[string]WorkflowFlag, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEmergencies(m map[string]EmergencyFlag) map[string]EmergencyFlag {
	out := make(map[string]EmergencyFlag, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
