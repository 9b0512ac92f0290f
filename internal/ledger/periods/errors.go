package periods

import "errors"

var (
	// ErrNoOpenPeriod indicates no period covers the requested date.
	ErrNoOpenPeriod = errors.New("periods: no open period covers the requested date")
	// ErrPeriodClosed indicates the resolved period is closed and the
	// caller is not on a reversal-authorised path.
	ErrPeriodClosed = errors.New("periods: period is closed")
	// ErrReversalNotAllowed indicates the reversal pre-conditions failed:
	// the original entry is not posted, is itself a reversal, or was
	// already reversed.
	ErrReversalNotAllowed = errors.New("periods: reversal not allowed")
	// ErrInvalidPeriodRange indicates start is not before end, or the new
	// range overlaps an existing period.
	ErrInvalidPeriodRange = errors.New("periods: invalid or overlapping period range")
	// ErrAlreadyClosed indicates a close was attempted on an already
	// closed period.
	ErrAlreadyClosed = errors.New("periods: period already closed")
)
