package repair

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/linkage"
	"github.com/ledgergate/ledgergate/internal/ledger/movement"
	"github.com/shopspring/decimal"
)

// unbalancedTolerance: entries off by more than one cent are reported.
var unbalancedTolerance = decimal.NewFromFloat(0.01)

// SingletonLookup is the domain-configurable collaborator behind
// MULTIPLE_ACTIVE_SINGLETON(entity_name): it returns the ids of every row
// currently marked active for a singleton-constrained entity. ledgergate
// ships it pre-wired for "accounting_period" (at most one period may be
// marked current); additional entity names are accepted via SingletonEntities.
type SingletonLookup interface {
	ActiveIDs(ctx context.Context, entityName string) ([]string, error)
}

// Scanner runs the corruption detectors. Each method
// runs under the caller's strongest available consistency primitive - the
// caller is expected to invoke these inside a single REPEATABLE READ
// transaction snapshot when cross-scanner consistency matters.
type Scanner struct {
	entries           gateway.Repository
	balances          movement.Repository
	linkageRegistry   *linkage.Registry
	singletons        SingletonLookup
	singletonEntities []string
	now               func() time.Time
}

// NewScanner wires the scanner's read-only collaborators. singletonEntities
// is the domain-configurable list of entity names MULTIPLE_ACTIVE_SINGLETON
// runs against; ledgergate defaults to ["accounting_period"] at startup.
func NewScanner(entries gateway.Repository, balances movement.Repository, reg *linkage.Registry, singletons SingletonLookup, singletonEntities []string) *Scanner {
	return &Scanner{
		entries:           entries,
		balances:          balances,
		linkageRegistry:   reg,
		singletons:        singletons,
		singletonEntities: singletonEntities,
		now:               time.Now,
	}
}

// ScanOrphanedJournalEntries finds journal entries whose source triple no
// longer passes SourceLinkage validation.
func (s *Scanner) ScanOrphanedJournalEntries(ctx context.Context) (ScanResult, error) {
	orphans, err := s.linkageRegistry.ScanOrphans(ctx, orphanEntryLookup{s.entries})
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{CorruptionType: CorruptionOrphanedJournalEntries, ScannedAt: s.now()}
	for _, o := range orphans {
		res.Issues = append(res.Issues, Issue{
			CorruptionType: CorruptionOrphanedJournalEntries,
			ObjectID:       strconv.FormatInt(o.EntryID, 10),
			Confidence:     1.0,
			Evidence:       map[string]any{"source": o.Triple.String()},
		})
	}
	return res, nil
}

// ScanNegativeStock finds product balances currently below zero.
func (s *Scanner) ScanNegativeStock(ctx context.Context) (ScanResult, error) {
	balances, err := s.balances.ListNegativeBalances(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{CorruptionType: CorruptionNegativeStock, ScannedAt: s.now()}
	for _, b := range balances {
		res.Issues = append(res.Issues, Issue{
			CorruptionType: CorruptionNegativeStock,
			ObjectID:       strconv.FormatInt(b.ProductID, 10),
			Confidence:     1.0,
			Evidence:       map[string]any{"qty": b.Qty.String()},
		})
	}
	return res, nil
}

// ScanUnbalancedJournalEntries finds posted entries whose debit and credit
// totals diverge by more than unbalancedTolerance.
func (s *Scanner) ScanUnbalancedJournalEntries(ctx context.Context) (ScanResult, error) {
	totals, err := s.entries.ListLineTotals(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{CorruptionType: CorruptionUnbalancedJournalEntries, ScannedAt: s.now()}
	for id, t := range totals {
		diff := t.Debit.Sub(t.Credit).Abs()
		if diff.GreaterThan(unbalancedTolerance) {
			res.Issues = append(res.Issues, Issue{
				CorruptionType: CorruptionUnbalancedJournalEntries,
				ObjectID:       strconv.FormatInt(id, 10),
				Confidence:     1.0,
				Evidence:       map[string]any{"debit": t.Debit.String(), "credit": t.Credit.String(), "diff": diff.String()},
			})
		}
	}
	return res, nil
}

// ScanMultipleActiveSingletons checks every configured entity name for more
// than one row marked active.
func (s *Scanner) ScanMultipleActiveSingletons(ctx context.Context) (ScanResult, error) {
	res := ScanResult{CorruptionType: CorruptionMultipleActiveSingleton, ScannedAt: s.now()}
	if s.singletons == nil {
		return res, nil
	}
	for _, entity := range s.singletonEntities {
		ids, err := s.singletons.ActiveIDs(ctx, entity)
		if err != nil {
			return ScanResult{}, err
		}
		if len(ids) > 1 {
			res.Issues = append(res.Issues, Issue{
				CorruptionType: CorruptionMultipleActiveSingleton,
				EntityName:     entity,
				ObjectID:       entity,
				Confidence:     1.0,
				Evidence:       map[string]any{"active_ids": ids},
			})
		}
	}
	return res, nil
}

// scanStage names a RunAll scanner so a failure can be reported under the
// corruption type it was trying to detect.
type scanStage struct {
	corruptionType CorruptionType
	run            func(context.Context) (ScanResult, error)
}

// RunAll runs every scanner and aggregates their results into a
// CorruptionReport. A scanner error never aborts the run: it is
// recorded as a CorruptionScanFailure issue and the remaining scanners still
// execute, so one unreachable table never hides findings from the others.
// Scanners are read-only and independent, so they run concurrently; results
// keep a fixed order regardless of completion order.
func (s *Scanner) RunAll(ctx context.Context) (CorruptionReport, error) {
	return s.Run(ctx, nil)
}

// Run is RunAll restricted to the named corruption types; a nil or empty
// filter runs every scanner.
func (s *Scanner) Run(ctx context.Context, types []CorruptionType) (CorruptionReport, error) {
	report := CorruptionReport{GeneratedAt: s.now()}
	all := []scanStage{
		{CorruptionOrphanedJournalEntries, s.ScanOrphanedJournalEntries},
		{CorruptionNegativeStock, s.ScanNegativeStock},
		{CorruptionUnbalancedJournalEntries, s.ScanUnbalancedJournalEntries},
		{CorruptionMultipleActiveSingleton, s.ScanMultipleActiveSingletons},
	}
	stages := all
	if len(types) > 0 {
		wanted := make(map[CorruptionType]bool, len(types))
		for _, t := range types {
			wanted[t] = true
		}
		stages = stages[:0:0]
		for _, st := range all {
			if wanted[st.corruptionType] {
				stages = append(stages, st)
			}
		}
	}
	report.Results = make([]ScanResult, len(stages))

	var g errgroup.Group
	for i, stage := range stages {
		g.Go(func() error {
			res, err := stage.run(ctx)
			if err != nil {
				res = ScanResult{
					CorruptionType: stage.corruptionType,
					ScannedAt:      s.now(),
					Issues: []Issue{{
						CorruptionType: CorruptionScanFailure,
						ObjectID:       string(stage.corruptionType),
						Confidence:     1.0,
						Evidence:       map[string]any{"error": err.Error()},
					}},
				}
			}
			report.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// orphanEntryLookup adapts gateway.Repository to linkage.EntryLookup so the
// repair package does not need its own copy of AllSourceTriples.
type orphanEntryLookup struct {
	repo gateway.Repository
}

func (o orphanEntryLookup) AllSourceTriples(ctx context.Context) (map[int64]ledgershared.Triple, error) {
	return o.repo.AllSourceTriples(ctx)
}

