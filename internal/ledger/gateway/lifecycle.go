package gateway

import (
	"context"
	"fmt"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
)

// PostEntry transitions a draft entry to posted. The entry's period must
// still be open: a draft whose period closed underneath it can only be
// re-created into the current period.
func (s *Service) PostEntry(ctx context.Context, entryID int64, actor ledgershared.Principal) (JournalEntry, error) {
	var result JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetWithLines(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return ErrPostedEntryImmutable
		}
		period, err := tx.GetForUpdate(ctx, entry.AccountingPeriod)
		if err != nil {
			return err
		}
		if period.Status == periods.StatusClosed {
			return ErrPeriodClosed
		}
		now := s.now()
		if err := tx.UpdateStatus(ctx, entry.ID, StatusPosted, actorIDOf(actor), now); err != nil {
			return err
		}
		entry.Status = StatusPosted
		entry.PostedAt = &now
		entry.PostedBy = actorIDOf(actor)
		if s.board.IsHighPriorityWorkflow(entryWorkflow) {
			if err := tx.SetLocked(ctx, entry.ID, actorIDOf(actor), now); err != nil {
				return err
			}
			entry.IsLocked = true
			entry.LockedAt = &now
			entry.LockedBy = actorIDOf(actor)
		}
		if err := tx.InsertAuditRow(ctx, audit.Entry{
			ModelName:  "journal_entry",
			ObjectID:   fmt.Sprintf("%d", entry.ID),
			Operation:  "gateway.post_entry",
			ActorID:    actorIDOf(actor),
			BeforeData: map[string]any{"status": string(StatusDraft)},
			AfterData:  map[string]any{"status": string(StatusPosted)},
			At:         now,
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

// CancelEntry transitions a draft entry to cancelled. Posted entries are
// immutable: the only way to undo one is CreateReversalEntry.
func (s *Service) CancelEntry(ctx context.Context, entryID int64, actor ledgershared.Principal) (JournalEntry, error) {
	entry, err := s.lifecycleTransition(ctx, entryID, actor, "gateway.cancel_entry", func(ctx context.Context, tx TxRepository, e JournalEntry) error {
		return tx.UpdateStatus(ctx, e.ID, StatusCancelled, actorIDOf(actor), s.now())
	})
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Status = StatusCancelled
	return entry, nil
}

// DeleteEntry removes a draft entry and its lines. Like CancelEntry, it
// refuses anything that has posted.
func (s *Service) DeleteEntry(ctx context.Context, entryID int64, actor ledgershared.Principal) error {
	_, err := s.lifecycleTransition(ctx, entryID, actor, "gateway.delete_entry", func(ctx context.Context, tx TxRepository, e JournalEntry) error {
		return tx.DeleteEntry(ctx, e.ID)
	})
	return err
}

// lifecycleTransition loads the entry, enforces the draft-only rule, applies
// fn, and audits, all inside one transaction.
func (s *Service) lifecycleTransition(ctx context.Context, entryID int64, actor ledgershared.Principal, operation string, fn func(context.Context, TxRepository, JournalEntry) error) (JournalEntry, error) {
	var result JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetWithLines(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return ErrPostedEntryImmutable
		}
		if err := fn(ctx, tx, entry); err != nil {
			return err
		}
		if err := tx.InsertAuditRow(ctx, audit.Entry{
			ModelName:  "journal_entry",
			ObjectID:   fmt.Sprintf("%d", entry.ID),
			Operation:  operation,
			ActorID:    actorIDOf(actor),
			BeforeData: map[string]any{"status": string(entry.Status)},
			At:         s.now(),
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
