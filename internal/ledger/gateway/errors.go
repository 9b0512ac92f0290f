package gateway

import "errors"

// Error taxonomy surfaced to callers. Every one aborts the current call.
// Errors raised once the idempotency record has begun (period resolution
// onward) roll back the posting transaction and transition the record to
// failed with the error's string as the stored code; errors raised before
// that point (input validation, the switchboard gate, source linkage, a
// contended key) leave no record behind.
var (
	ErrWorkflowDisabled    = errors.New("gateway: workflow disabled")
	ErrEmergencyDisabled   = errors.New("gateway: emergency kill switch active")
	ErrInvalidSourceLinkage = errors.New("gateway: source not allowlisted or not found")
	ErrOperationInProgress = errors.New("gateway: another caller holds this idempotency key")
	ErrNoOpenPeriod        = errors.New("gateway: no open accounting period covers this date")
	ErrPeriodClosed        = errors.New("gateway: accounting period is closed")
	ErrUnbalancedEntry     = errors.New("gateway: debit and credit totals do not balance")
	ErrTooFewLines         = errors.New("gateway: an entry requires at least two lines")
	ErrInvalidLine         = errors.New("gateway: invalid posting line")
	ErrInvalidAccount      = errors.New("gateway: account is inactive, not a leaf, or not postable")
	ErrPostedEntryImmutable = errors.New("gateway: posted entries are immutable except by reversal")
	ErrReversalNotAllowed  = errors.New("gateway: reversal preconditions not met")
	ErrEntryNotFound       = errors.New("gateway: journal entry not found")
	ErrIdempotencyKeyRequired = errors.New("gateway: idempotency key is required")
)
