// Package linkage maintains the SourceLinkage contract: a closed allowlist
// of module.model pairs and an existence check against the target row. The
// allowlist is configuration loaded at startup, never a hard-coded literal;
// tests override it through their own Registry.
package linkage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// ErrInvalidSourceLinkage is returned when a triple is not allowlisted or
// does not resolve to an existing row.
var ErrInvalidSourceLinkage = errors.New("linkage: source not allowlisted or not found")

// Existence resolves whether a (module, model, id) triple refers to a real,
// live record. Implementations talk to the owning domain module; ledgergate
// treats it as an opaque external collaborator.
type Existence interface {
	Exists(ctx context.Context, t ledgershared.Triple) (bool, error)
}

// Registry is the mutable, in-process allowlist of permitted module.model
// pairs, loaded at startup from config and overridable at runtime through
// Allow and Disallow. It is not a compile-time constant so the scan always
// queries it through an accessor.
type Registry struct {
	mu        sync.RWMutex
	allowed   map[string]struct{}
	existence map[string]Existence
}

// NewRegistry builds a Registry seeded with the given module.model pairs.
func NewRegistry(seed []string) *Registry {
	r := &Registry{allowed: make(map[string]struct{}), existence: make(map[string]Existence)}
	for _, s := range seed {
		r.allowed[s] = struct{}{}
	}
	return r
}

// Allow adds a module.model pair to the allowlist at runtime.
func (r *Registry) Allow(moduleModel string, e Existence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed[moduleModel] = struct{}{}
	if e != nil {
		r.existence[moduleModel] = e
	}
}

// Disallow removes a module.model pair.
func (r *Registry) Disallow(moduleModel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.allowed, moduleModel)
	delete(r.existence, moduleModel)
}

// IsAllowed reports whether moduleModel is currently on the allowlist.
func (r *Registry) IsAllowed(moduleModel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.allowed[moduleModel]
	return ok
}

// Allowed returns the current allowlist, sorted, for the operator surface.
func (r *Registry) Allowed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.allowed))
	for pair := range r.allowed {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

// Validate checks both halves of the SourceLinkage contract: the
// module.model pair must be allowlisted, and id must resolve to an existing
// row of that model.
func (r *Registry) Validate(ctx context.Context, t ledgershared.Triple) (bool, error) {
	if t.Module == "" || t.Model == "" || t.ID == uuid.Nil {
		return false, nil
	}
	r.mu.RLock()
	_, allowed := r.allowed[t.Key()]
	existence := r.existence[t.Key()]
	r.mu.RUnlock()
	if !allowed {
		return false, nil
	}
	if existence == nil {
		return false, nil
	}
	ok, err := existence.Exists(ctx, t)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// EntryLookup is the minimal view into the ledger the scanner needs: every
// journal entry's source triple plus its id, so orphans can be
// reported without the linkage package importing the gateway package.
type EntryLookup interface {
	AllSourceTriples(ctx context.Context) (map[int64]ledgershared.Triple, error)
}

// OrphanEntry names a journal entry whose source no longer validates.
type OrphanEntry struct {
	EntryID int64
	Triple  ledgershared.Triple
}

// ScanOrphans walks every journal entry's source triple under the ledger's
// strongest available consistency primitive (the caller is expected to run
// this inside a single snapshot read, e.g. a REPEATABLE READ transaction)
// and returns every one that fails Validate.
func (r *Registry) ScanOrphans(ctx context.Context, entries EntryLookup) ([]OrphanEntry, error) {
	triples, err := entries.AllSourceTriples(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []OrphanEntry
	for id, t := range triples {
		ok, err := r.Validate(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			orphans = append(orphans, OrphanEntry{EntryID: id, Triple: t})
		}
	}
	return orphans, nil
}

// Backfill is the linkage repair interface: rewrite an orphan's triple.
type Backfill interface {
	SetSourceTriple(ctx context.Context, entryID int64, t ledgershared.Triple) error
}

// BackfillOrphan repairs entryID's triple through backfill. It writes no
// audit row itself; the HTTP handler records the change. When dryRun is
// true, only validation runs; nothing is written.
func (r *Registry) BackfillOrphan(ctx context.Context, backfill Backfill, entryID int64, t ledgershared.Triple, dryRun bool) error {
	ok, err := r.Validate(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSourceLinkage
	}
	if dryRun {
		return nil
	}
	return backfill.SetSourceTriple(ctx, entryID, t)
}
