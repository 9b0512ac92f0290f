// Package ledgershared holds value types shared across every governance
// component so that none of them need to import one another just to agree
// on what a source reference or a principal looks like.
package ledgershared

import (
	"fmt"

	"github.com/google/uuid"
)

// Triple is the (module, model, id) reference every JournalEntry and
// StockMovement carries back to the business record that caused it.
type Triple struct {
	Module string    `json:"module"`
	Model  string    `json:"model"`
	ID     uuid.UUID `json:"id"`
}

// Key returns the allowlist lookup key for the triple's module.model pair.
func (t Triple) Key() string {
	return fmt.Sprintf("%s.%s", t.Module, t.Model)
}

func (t Triple) String() string {
	return fmt.Sprintf("%s.%s:%s", t.Module, t.Model, t.ID)
}

// IsZero reports whether the triple was never populated.
func (t Triple) IsZero() bool {
	return t.Module == "" && t.Model == "" && t.ID == uuid.Nil
}
