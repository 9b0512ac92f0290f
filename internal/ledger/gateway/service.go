package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
)

// entryWorkflow is the switchboard workflow name every create_journal_entry
// call is gated on. Reversals are gated on reversalWorkflow instead (see
// reversal.go) so an operator can disable new postings without blocking the
// ability to reverse what is already posted.
const entryWorkflow = "accounting.post_journal_entry"

// IdempotencyCoordinator is the subset of idempotency.Store the gateway
// drives directly, outside the posting transaction: the probe and the
// begin/retry/fail halves of steps 3-4 and the failure path of step 10.
// IdempotencyComplete, by contrast, rides inside TxRepository because it
// must commit atomically with the entry (see repository.go). Declaring
// this narrow interface rather than taking *idempotency.Store directly lets
// tests supply an in-memory coordinator without a Postgres pool.
type IdempotencyCoordinator interface {
	Probe(ctx context.Context, operationType, key string) (idempotency.Outcome, error)
	Begin(ctx context.Context, operationType, key string, context_ map[string]any, ttl time.Duration) (idempotency.Token, error)
	Retry(ctx context.Context, operationType, key string) (idempotency.Token, error)
	Fail(ctx context.Context, tok idempotency.Token, errCode string) error
}

// WorkflowGate is the subset of switchboard.Board the gateway consults to
// decide whether a posting or reversal may proceed.
type WorkflowGate interface {
	IsWorkflowEnabled(name string) bool
	EmergencyCovering(workflow string) string
	RecordViolation(ctx context.Context, violationType string, details map[string]any)
	IsHighPriorityWorkflow(workflow string) bool
}

// LinkageValidator is the subset of linkage.Registry the gateway checks a
// posting's source triple against.
type LinkageValidator interface {
	Validate(ctx context.Context, t ledgershared.Triple) (bool, error)
}

// Service implements the Accounting Gateway: the sole authorised entry point
// for producing JournalEntry rows. Every producer, including signal
// handlers, posts through this ten-step governed pipeline.
type Service struct {
	repo     Repository
	idem     IdempotencyCoordinator
	trail    audit.Trail
	board    WorkflowGate
	linkage  LinkageValidator
	accounts AccountLookup
	policy   ledgershared.RetryPolicy
	now      func() time.Time
}

// NewService wires the gateway's collaborators. Every dependency is held by
// reference rather than resolved through a global, so tests inject their
// own instances. The default retry policy (no re-run of failed outcomes)
// applies until WithRetryPolicy overrides it.
func NewService(repo Repository, idem IdempotencyCoordinator, trail audit.Trail, board WorkflowGate, reg LinkageValidator, accounts AccountLookup) *Service {
	return &Service{repo: repo, idem: idem, trail: trail, board: board, linkage: reg, accounts: accounts, policy: ledgershared.DefaultRetryPolicy(), now: time.Now}
}

// WithRetryPolicy replaces the service's retry/backoff policy and returns
// the service for chaining at wiring time.
func (s *Service) WithRetryPolicy(p ledgershared.RetryPolicy) *Service {
	s.policy = p
	return s
}

// List returns every journal entry, most recent first.
func (s *Service) List(ctx context.Context) ([]JournalEntry, error) {
	return s.repo.List(ctx)
}

// Get returns a single journal entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}

// CreateJournalEntry runs the full create_journal_entry pipeline:
//
//  1. switchboard gate - the posting workflow, every component it depends
//     on, and no covering emergency.
//  2. source linkage validation against the allowlist + existence check.
//  3. idempotency probe; on a prior outcome, replay it instead of posting
//     again.
//  4. idempotency begin - a record committed before any entry work starts,
//     so two racing callers with the same key arbitrate through the unique
//     index rather than through application logic.
//  5. period resolution for in.Date, failing closed if none is open.
//  6. line validation against the chart of accounts (active, leaf,
//     postable).
//  7. number minting.
//  8. persisting the entry and its lines.
//  9. optional auto-post, plus an immediate lock when the posting workflow
//     is high-priority.
//  10. idempotency completion and the success audit row, atomically with
//     step 8-9's writes.
//
// Steps 8-10 run inside one transaction: either all of the
// entry, its lines, the idempotency completion, and the audit row exist, or
// none of them do. A failure anywhere after step 4 instead durably marks the
// step-4 record failed and writes a separate audit row recording the
// failure - that transition cannot itself live inside the transaction that
// is rolling back.
func (s *Service) CreateJournalEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}

	// Contended keys are the one transient failure worth retrying: the
	// holder either completes (the next attempt replays its outcome) or
	// fails (the next attempt surfaces or re-runs it per the policy).
	// Everything else the pipeline refuses is deterministic and returns
	// immediately.
	var entry JournalEntry
	err := s.policy.Execute(ctx, func() error {
		var err error
		entry, err = s.createOnce(ctx, in)
		return err
	}, func(err error) bool {
		return err == ErrOperationInProgress
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// createOnce is a single pass through the pipeline; CreateJournalEntry
// drives it under the retry policy.
func (s *Service) createOnce(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	workflow := entryWorkflow
	if in.isReversal {
		// The reversal gate (reversalWorkflow) already ran in
		// CreateReversalEntry; forward-posting's own gate must not also
		// block it, so it is skipped here for the reversal path.
		workflow = ""
	}
	if workflow != "" {
		if !s.board.IsWorkflowEnabled(workflow) {
			s.board.RecordViolation(ctx, "workflow_disabled", map[string]any{"workflow": workflow, "source": in.Source.String()})
			return JournalEntry{}, ErrWorkflowDisabled
		}
		if covering := s.board.EmergencyCovering(workflow); covering != "" {
			s.board.RecordViolation(ctx, "emergency_disabled", map[string]any{"workflow": workflow, "emergency": covering})
			return JournalEntry{}, ErrEmergencyDisabled
		}
	}

	ok, err := s.linkage.Validate(ctx, in.Source)
	if err != nil {
		return JournalEntry{}, err
	}
	if !ok {
		if s.trail != nil {
			_ = s.trail.Record(ctx, audit.Entry{
				ModelName: "journal_entry",
				ObjectID:  in.IdempotencyKey,
				Operation: "gateway.create_journal_entry_failed",
				ActorID:   actorIDOf(in.Actor),
				AfterData: map[string]any{"error": ErrInvalidSourceLinkage.Error(), "source": in.Source.String()},
				At:        s.now(),
			})
		}
		return JournalEntry{}, ErrInvalidSourceLinkage
	}

	outcome, err := s.idem.Probe(ctx, "create_journal_entry", in.IdempotencyKey)
	if err != nil {
		return JournalEntry{}, err
	}
	var tok idempotency.Token
	if outcome.Present {
		switch outcome.Record.Status {
		case idempotency.StatusCompleted:
			entryID, _ := outcome.Record.ResultData["entry_id"].(float64)
			return s.repo.Get(ctx, int64(entryID))
		case idempotency.StatusFailed:
			// Step 3: a recorded failure replays
			// deterministically unless the policy permits re-execution,
			// in which case the failed record is re-armed in place.
			if !s.policy.RetryFailedOutcomes {
				return JournalEntry{}, fmt.Errorf("gateway: prior attempt failed: %s", outcome.Record.ErrorCode)
			}
			tok, err = s.idem.Retry(ctx, "create_journal_entry", in.IdempotencyKey)
			if err != nil {
				if err == idempotency.ErrAlreadyStarted {
					return JournalEntry{}, ErrOperationInProgress
				}
				return JournalEntry{}, err
			}
		default:
			return JournalEntry{}, ErrOperationInProgress
		}
	} else {
		tok, err = s.idem.Begin(ctx, "create_journal_entry", in.IdempotencyKey, map[string]any{
			"source": in.Source.String(),
		}, 24*time.Hour)
		if err != nil {
			if err == idempotency.ErrAlreadyStarted {
				return JournalEntry{}, ErrOperationInProgress
			}
			return JournalEntry{}, err
		}
	}

	entry, err := s.postWithin(ctx, in, tok)
	if err != nil {
		s.failAttempt(ctx, tok, in, err)
		return JournalEntry{}, err
	}
	return entry, nil
}

// postWithin runs steps 5-10 inside one transaction.
func (s *Service) postWithin(ctx context.Context, in CreateEntryInput, tok idempotency.Token) (JournalEntry, error) {
	var result JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.FindOpenByDate(ctx, in.Date)
		if err != nil {
			if err == periods.ErrNoOpenPeriod {
				return ErrNoOpenPeriod
			}
			return err
		}
		if in.ExplicitPeriodID != 0 && in.ExplicitPeriodID != period.ID {
			return ErrPeriodClosed
		}

		for _, line := range in.Lines {
			acct, err := s.accounts.LookupByCode(ctx, line.AccountCode)
			if err != nil {
				return err
			}
			if !acct.IsActive || !acct.IsLeaf || !acct.Postable {
				return ErrInvalidAccount
			}
		}

		number, err := tx.NextNumber(ctx, journalNumberPrefix(in.EntryType))
		if err != nil {
			return err
		}

		entry, err := tx.InsertEntry(ctx, in, number, period.ID, false)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, entry.ID, in.Lines); err != nil {
			return err
		}

		if in.shouldAutoPost() {
			now := s.now()
			if err := tx.UpdateStatus(ctx, entry.ID, StatusPosted, in.Actor.GetID(), now); err != nil {
				return err
			}
			entry.Status = StatusPosted
			entry.PostedAt = &now
			entry.PostedBy = in.Actor.GetID()

			// Step 9: posting into a high-priority workflow
			// additionally locks the entry immediately, rather than waiting
			// for the period to close around it. Reversals check the same
			// entryWorkflow name as the entry they target,
			// not reversalWorkflow, which only gates whether the reversal
			// itself is allowed to run.
			if s.board.IsHighPriorityWorkflow(entryWorkflow) {
				if err := tx.SetLocked(ctx, entry.ID, in.Actor.GetID(), now); err != nil {
					return err
				}
				entry.IsLocked = true
				entry.LockedAt = &now
				entry.LockedBy = in.Actor.GetID()
			}
		}

		entry, err = tx.GetWithLines(ctx, entry.ID)
		if err != nil {
			return err
		}

		if err := tx.IdempotencyComplete(ctx, tok.RecordID(), entry.ID, entry.Number); err != nil {
			return err
		}
		if err := tx.InsertAuditRow(ctx, audit.Entry{
			ModelName: "journal_entry",
			ObjectID:  fmt.Sprintf("%d", entry.ID),
			Operation: "gateway.create_journal_entry",
			ActorID:   in.Actor.GetID(),
			AfterData: map[string]any{"number": entry.Number, "status": string(entry.Status)},
			At:        s.now(),
		}); err != nil {
			return err
		}

		result = entry
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return result, nil
}

// failAttempt records the durable failure the idempotency record and audit
// trail must carry even though postWithin's transaction rolled back.
// Neither write participates in that rolled-back transaction: both must
// survive the failure they describe.
func (s *Service) failAttempt(ctx context.Context, tok idempotency.Token, in CreateEntryInput, cause error) {
	_ = s.idem.Fail(ctx, tok, cause.Error())
	if s.trail != nil {
		_ = s.trail.Record(ctx, audit.Entry{
			ModelName: "journal_entry",
			ObjectID:  in.IdempotencyKey,
			Operation: "gateway.create_journal_entry_failed",
			ActorID:   actorIDOf(in.Actor),
			AfterData: map[string]any{"error": cause.Error(), "source": in.Source.String()},
			At:        s.now(),
		})
	}
}

func actorIDOf(p ledgershared.Principal) int64 {
	if p == nil {
		return 0
	}
	return p.GetID()
}

// journalNumberPrefix resolves the counter namespace: "JE" is the single
// canonical prefix for every entry type; reversal entries are distinguished
// by IsReversal, not by a different numbering series.
func journalNumberPrefix(_ EntryType) string {
	return "JE"
}
