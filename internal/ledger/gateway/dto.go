package gateway

import (
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/shopspring/decimal"
)

// LineInput describes one posting line of a create-entry request.
type LineInput struct {
	AccountCode string          `validate:"required"`
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CostCenter  string
	Project     string
}

// CreateEntryInput groups every field required to post a journal entry
// through create_journal_entry.
type CreateEntryInput struct {
	Source            ledgershared.Triple `validate:"required"`
	Lines              []LineInput        `validate:"required,min=2"`
	IdempotencyKey     string             `validate:"required"`
	Actor              ledgershared.Principal `validate:"required"`
	EntryType          EntryType
	Description        string
	Reference          string
	ReferenceType      string
	ReferenceID        string
	Date               time.Time `validate:"required"`
	FinancialCategory  string
	FinancialSubcat    string
	AutoPost           *bool
	ExplicitPeriodID   int64

	// Populated only by the reversal path (reversal.go); ordinary callers
	// never set these.
	originalEntryID int64
	isReversal      bool
	reversalReason  string
}

// shouldAutoPost resolves the default from the entry type when the caller
// does not decide: automatic, fee, inventory, and reversal entries post at
// create time; manual and period-boundary entries stay draft.
func (in CreateEntryInput) shouldAutoPost() bool {
	if in.AutoPost != nil {
		return *in.AutoPost
	}
	return in.EntryType.AutoPosts()
}

// Validate enforces the structural invariants before any row is written:
// at least two lines, exactly one of debit/credit populated per line,
// non-negative amounts, and balanced totals within
// ledgershared.MoneyTolerance.
func (in CreateEntryInput) Validate() error {
	if in.IdempotencyKey == "" {
		return ErrIdempotencyKeyRequired
	}
	if in.Source.Module == "" || in.Source.Model == "" {
		return ErrInvalidSourceLinkage
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debitTotal := decimal.Zero
	creditTotal := decimal.Zero
	for _, line := range in.Lines {
		if line.AccountCode == "" {
			return ErrInvalidLine
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return ErrInvalidLine
		}
		hasDebit := line.Debit.GreaterThan(decimal.Zero)
		hasCredit := line.Credit.GreaterThan(decimal.Zero)
		if hasDebit == hasCredit {
			// both zero, or both positive: neither is valid.
			return ErrInvalidLine
		}
		debitTotal = debitTotal.Add(line.Debit)
		creditTotal = creditTotal.Add(line.Credit)
	}
	if !ledgershared.WithinTolerance(debitTotal, creditTotal) {
		return ErrUnbalancedEntry
	}
	return nil
}

// ReverseEntryInput groups parameters for create_reversal_entry.
type ReverseEntryInput struct {
	OriginalEntryID int64
	Actor           ledgershared.Principal
	Reason          string `validate:"required"`
	IdempotencyKey  string `validate:"required"`
	PartialAmount   *decimal.Decimal
}
