// Package periods implements the Period Lock & Reversal Engine: it makes
// posted entries immutable once their accounting period is closed, and
// computes the reversal target (period, date, line swap/scale) that the
// gateway then persists.
package periods

import "time"

// Status enumerates the lifecycle of an accounting period.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period is a named, non-overlapping date range governing which dates
// accept journal-entry writes.
type Period struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Status    Status     `json:"status"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  int64      `json:"closed_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Contains reports whether date falls within [StartDate, EndDate] inclusive.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}
