package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/platform/db"
)

// CloseSummary reports the outcome of closing a period: how many posted
// entries were swept into the locked state as a result.
type CloseSummary struct {
	PeriodID     int64     `json:"period_id"`
	EntriesFixed int64     `json:"entries_locked"`
	ClosedAt     time.Time `json:"closed_at"`
}

// ComplianceReport is the result of validate_period_lock_compliance: every
// posted entry in a closed period must be locked.
type ComplianceReport struct {
	PeriodID      int64 `json:"period_id"`
	Compliant     bool  `json:"compliant"`
	UnlockedCount int64 `json:"unlocked_count"`
}

// Service implements the period-lock lifecycle. The reversal
// half lives on the gateway (gateway/reversal.go): a reversal is itself a
// journal entry and must ride the full posting pipeline.
type Service struct {
	pool  *pgxpool.Pool
	audit audit.Trail
	now   func() time.Time
}

// NewService builds a period-lock Service.
func NewService(pool *pgxpool.Pool, trail audit.Trail) *Service {
	return &Service{pool: pool, audit: trail, now: time.Now}
}

// ClosePeriod closes periodID and, as a single batch, locks every posted
// entry assigned to it. Both happen inside one transaction so a
// crash between them cannot leave a closed-but-unlocked period.
func (s *Service) ClosePeriod(ctx context.Context, periodID int64, actor ledgershared.Principal) (CloseSummary, error) {
	closedAt := s.now()
	var fixed int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		txRepo := TxRepositoryFor(tx)
		period, err := txRepo.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status == StatusClosed {
			return ErrAlreadyClosed
		}
		if err := txRepo.Close(ctx, periodID, actor.GetID(), closedAt); err != nil {
			return err
		}
		fixed, err = txRepo.LockEntriesInRange(ctx, periodID)
		return err
	})
	if err != nil {
		return CloseSummary{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, audit.Entry{
			ModelName: "accounting_period",
			ObjectID:  fmt.Sprintf("%d", periodID),
			Operation: "period.close",
			ActorID:   actor.GetID(),
			AfterData: map[string]any{"entries_locked": fixed},
			At:        closedAt,
		})
	}
	return CloseSummary{PeriodID: periodID, EntriesFixed: fixed, ClosedAt: closedAt}, nil
}

// EnforcementSummary reports the outcome of enforce_period_locks_for_workflow:
// how many posted entries from the given source were swept into the locked
// state because their period had already closed.
type EnforcementSummary struct {
	SourceModule  string    `json:"source_module"`
	SourceModel   string    `json:"source_model"`
	EntriesLocked int64     `json:"entries_locked"`
	EnforcedAt    time.Time `json:"enforced_at"`
}

// EnforcePeriodLocksForWorkflow locks every posted, unlocked entry whose
// source matches (module, model) and whose accounting period is closed. It
// is the repair half of the close sweep: a close that raced a posting, or a
// migration that imported posted rows, leaves entries ClosePeriod never saw.
func (s *Service) EnforcePeriodLocksForWorkflow(ctx context.Context, module, model string, actor ledgershared.Principal) (EnforcementSummary, error) {
	enforcedAt := s.now()
	cmd, err := s.pool.Exec(ctx, `
UPDATE journal_entries je
SET is_locked=true, locked_at=$3, locked_by=$4
FROM accounting_periods p
WHERE je.accounting_period_id = p.id
  AND p.status = 'CLOSED'
  AND je.status = 'posted'
  AND je.is_locked = false
  AND je.source_module = $1
  AND je.source_model = $2`, module, model, enforcedAt, actor.GetID())
	if err != nil {
		return EnforcementSummary{}, err
	}
	locked := cmd.RowsAffected()
	if s.audit != nil {
		_ = s.audit.Record(ctx, audit.Entry{
			ModelName: "journal_entry",
			ObjectID:  module + "." + model,
			Operation: "period.enforce_locks",
			ActorID:   actor.GetID(),
			AfterData: map[string]any{"entries_locked": locked},
			At:        enforcedAt,
		})
	}
	return EnforcementSummary{SourceModule: module, SourceModel: model, EntriesLocked: locked, EnforcedAt: enforcedAt}, nil
}

// EntryLockCounter abstracts the read-only count the compliance check needs
// without periods importing the gateway package.
type EntryLockCounter interface {
	CountUnlockedPostedInPeriod(ctx context.Context, periodID int64) (int64, error)
}

// ValidatePeriodLockCompliance checks lock compliance for one period: every
// posted entry in a closed period must carry is_locked=true.
func ValidatePeriodLockCompliance(ctx context.Context, counter EntryLockCounter, periodID int64) (ComplianceReport, error) {
	n, err := counter.CountUnlockedPostedInPeriod(ctx, periodID)
	if err != nil {
		return ComplianceReport{}, err
	}
	return ComplianceReport{PeriodID: periodID, Compliant: n == 0, UnlockedCount: n}, nil
}
