package gateway

import (
	"context"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/shopspring/decimal"
)

// reversalWorkflow gates create_reversal_entry independently of
// entryWorkflow: an operator disabling new forward postings should not, by
// itself, also block correcting what has already posted.
const reversalWorkflow = "accounting.reverse_journal_entry"

// CreateReversalEntry undoes a posted entry E: a full
// reversal swaps every line's debit and credit; a partial reversal scales
// each swapped line by partialAmount/E's total first. The reversal is
// always created auto-post, and posts only into the currently open period -
// never backdated into E's own (possibly now closed) period.
func (s *Service) CreateReversalEntry(ctx context.Context, in ReverseEntryInput) (JournalEntry, error) {
	if in.IdempotencyKey == "" {
		return JournalEntry{}, ErrIdempotencyKeyRequired
	}
	if in.Reason == "" {
		return JournalEntry{}, ErrReversalNotAllowed
	}

	if !s.board.IsWorkflowEnabled(reversalWorkflow) {
		s.board.RecordViolation(ctx, "workflow_disabled", map[string]any{"workflow": reversalWorkflow})
		return JournalEntry{}, ErrWorkflowDisabled
	}
	if covering := s.board.EmergencyCovering(reversalWorkflow); covering != "" {
		s.board.RecordViolation(ctx, "emergency_disabled", map[string]any{"workflow": reversalWorkflow, "emergency": covering})
		return JournalEntry{}, ErrEmergencyDisabled
	}

	original, err := s.repo.Get(ctx, in.OriginalEntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.Status != StatusPosted || original.IsReversal {
		return JournalEntry{}, ErrReversalNotAllowed
	}
	if alreadyReversed, err := s.hasReversal(ctx, original.ID); err != nil {
		return JournalEntry{}, err
	} else if alreadyReversed {
		return JournalEntry{}, ErrReversalNotAllowed
	}

	scale := decimal.NewFromInt(1)
	if in.PartialAmount != nil {
		total := originalTotal(original)
		if total.IsZero() || in.PartialAmount.GreaterThan(total) || in.PartialAmount.IsNegative() {
			return JournalEntry{}, ErrReversalNotAllowed
		}
		scale = in.PartialAmount.Div(total)
	}

	lines := make([]LineInput, 0, len(original.Lines))
	for _, l := range original.Lines {
		lines = append(lines, LineInput{
			AccountCode: l.AccountCode,
			Debit:       ledgershared.RoundMoney(l.Credit.Mul(scale)),
			Credit:      ledgershared.RoundMoney(l.Debit.Mul(scale)),
			Description: l.Description,
			CostCenter:  l.CostCenter,
			Project:     l.Project,
		})
	}

	autoPost := true
	reversalIn := CreateEntryInput{
		Source:           original.Source,
		Lines:            lines,
		IdempotencyKey:   in.IdempotencyKey,
		Actor:            in.Actor,
		EntryType:        EntryTypeReversal,
		Description:      "Reversal of " + original.Number + ": " + in.Reason,
		Reference:        original.Reference,
		ReferenceType:    original.ReferenceType,
		ReferenceID:      original.ReferenceID,
		Date:             s.now(),
		FinancialCategory: original.FinancialCategory,
		FinancialSubcat:   original.FinancialSubcat,
		AutoPost:          &autoPost,
		originalEntryID:   original.ID,
		isReversal:        true,
		reversalReason:    in.Reason,
	}
	if err := reversalIn.Validate(); err != nil {
		return JournalEntry{}, err
	}

	return s.CreateJournalEntry(ctx, reversalIn)
}

// hasReversal reports whether any existing entry already names originalID as
// its original_entry.
func (s *Service) hasReversal(ctx context.Context, originalID int64) (bool, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.OriginalEntryID != nil && *e.OriginalEntryID == originalID {
			return true, nil
		}
	}
	return false, nil
}

// originalTotal sums the debit side of e's lines - by construction equal to
// the credit side, since e is a balanced, already-posted entry.
func originalTotal(e JournalEntry) decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

