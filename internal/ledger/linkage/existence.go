package linkage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// ExistenceFunc adapts a plain function to the Existence interface.
type ExistenceFunc func(ctx context.Context, t ledgershared.Triple) (bool, error)

// Exists implements Existence.
func (f ExistenceFunc) Exists(ctx context.Context, t ledgershared.Triple) (bool, error) {
	return f(ctx, t)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableExistence resolves a triple against a Postgres table owned by the
// source's domain module: the row exists when a row with the triple's id
// does. It is the default Existence wiring for allowlist entries seeded from
// configuration; domains with richer liveness rules (soft deletes, archive
// states) register their own Existence instead.
type TableExistence struct {
	pool  *pgxpool.Pool
	table string
}

// NewTableExistence builds a TableExistence for table. The table name is
// interpolated into SQL, so it must be a plain lower-case identifier; it
// comes from operator configuration, never from request input.
func NewTableExistence(pool *pgxpool.Pool, table string) (*TableExistence, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("linkage: invalid table name %q", table)
	}
	return &TableExistence{pool: pool, table: table}, nil
}

// Exists implements Existence.
func (t *TableExistence) Exists(ctx context.Context, triple ledgershared.Triple) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, t.table)
	if err := t.pool.QueryRow(ctx, query, triple.ID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
