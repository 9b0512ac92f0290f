// Package gateway is the Accounting Gateway: the sole authorised producer
// of JournalEntry rows. Every posting runs the full governed pipeline -
// switchboard check, source-linkage validation, idempotency probe, period
// resolution, line validation, number minting, and audit, all inside one
// atomic unit.
package gateway

import (
	"context"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/shopspring/decimal"
)

// EntryType enumerates the kinds of journal entry the gateway will post.
// Beyond the structural kinds, the fee subtypes and delivery kinds let
// domain producers tag what business event a posting settles.
type EntryType string

const (
	EntryTypeManual     EntryType = "manual"
	EntryTypeAutomatic  EntryType = "automatic"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeClosing    EntryType = "closing"
	EntryTypeOpening    EntryType = "opening"
	EntryTypeReversal   EntryType = "reversal"
	EntryTypeInventory  EntryType = "inventory"

	EntryTypeFee            EntryType = "fee"
	EntryTypeApplicationFee EntryType = "application_fee"
	EntryTypeTuitionFee     EntryType = "tuition_fee"
	EntryTypeServicesFee    EntryType = "services_fee"
	EntryTypeDeliveryFee    EntryType = "delivery_fee"

	EntryTypeProductDelivery EntryType = "product_delivery"
)

// AutoPosts reports whether entries of this type post at create time when
// the caller does not say otherwise. Manual and period-boundary entries
// stay draft until an explicit post; machine-produced kinds go straight to
// posted.
func (t EntryType) AutoPosts() bool {
	switch t {
	case EntryTypeManual, EntryTypeAdjustment, EntryTypeClosing, EntryTypeOpening:
		return false
	}
	return true
}

// Status enumerates the JournalEntry lifecycle: draft -> posted -> (locked
// on period close), or draft -> cancelled. posted -> draft and posted ->
// cancelled are both forbidden.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPosted    Status = "posted"
	StatusCancelled Status = "cancelled"
)

// JournalEntry is a balanced accounting transaction composed of two or more
// lines.
type JournalEntry struct {
	ID                int64               `json:"id"`
	Number            string              `json:"number"`
	Date              time.Time           `json:"date"`
	EntryType         EntryType           `json:"entry_type"`
	Status            Status              `json:"status"`
	Description       string              `json:"description"`
	Reference         string              `json:"reference,omitempty"`
	ReferenceType     string              `json:"reference_type,omitempty"`
	ReferenceID       string              `json:"reference_id,omitempty"`
	Source            ledgershared.Triple `json:"source"`
	AccountingPeriod  int64               `json:"accounting_period_id"`
	FinancialCategory string              `json:"financial_category,omitempty"`
	FinancialSubcat   string              `json:"financial_subcategory,omitempty"`
	PostedAt          *time.Time          `json:"posted_at,omitempty"`
	PostedBy          int64               `json:"posted_by,omitempty"`
	IdempotencyKey    string              `json:"idempotency_key"`
	CreatedByService  string              `json:"created_by_service"`
	OriginalEntryID   *int64              `json:"original_entry_id,omitempty"`
	IsReversal        bool                `json:"is_reversal"`
	ReversalReason    string              `json:"reversal_reason,omitempty"`
	IsLocked          bool                `json:"is_locked"`
	LockedAt          *time.Time          `json:"locked_at,omitempty"`
	LockedBy          int64               `json:"locked_by,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Lines             []JournalEntryLine  `json:"lines,omitempty"`
}

// JournalEntryLine is a single debit or credit posting against one account.
type JournalEntryLine struct {
	ID          int64           `json:"id"`
	JournalID   int64           `json:"journal_entry_id"`
	AccountCode string          `json:"account_code"`
	AccountID   int64           `json:"account_id,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
	CostCenter  string          `json:"cost_center,omitempty"`
	Project     string          `json:"project,omitempty"`
}

// IsDebit reports whether this line posts a debit.
func (l JournalEntryLine) IsDebit() bool {
	return l.Debit.GreaterThan(decimal.Zero)
}

// Account is the subset of chart-of-accounts fields the gateway needs to
// validate a posting line.
type Account struct {
	ID       int64
	Code     string
	Name     string
	IsActive bool
	IsLeaf   bool
	Postable bool
}

// AccountLookup is the read-only chart-of-accounts collaborator.
type AccountLookup interface {
	LookupByCode(ctx context.Context, code string) (Account, error)
}

// reversalSourceSuffix is not referenced by the reversal path: reversal
// entries carry the original entry's source triple unchanged and are
// validated against the same allowlist as forward postings.
const reversalSourceSuffix = ":REVERSAL"
