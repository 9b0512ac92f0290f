package movement

import "errors"

var (
	ErrInvalidQuantity    = errors.New("movement: quantity_change must be non-zero")
	ErrInvalidUnitCost    = errors.New("movement: unit cost must be non-negative")
	ErrNegativeStock      = errors.New("movement: movement would drive stock negative")
	ErrServiceProduct     = errors.New("movement: product is service-typed, not stockable")
	ErrIdempotencyKeyRequired = errors.New("movement: idempotency key is required")
	ErrOperationInProgress = errors.New("movement: another caller holds this idempotency key")
)
