package repair

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSingletonLookup answers ActiveIDs from Postgres. Each configured entity
// name maps to the query returning the ids of its currently-active rows; the
// queries come from wiring, so new singleton-constrained entities are added
// without touching this package.
type PGSingletonLookup struct {
	pool    *pgxpool.Pool
	queries map[string]string
}

// NewPGSingletonLookup builds the lookup over the given entity->query map.
func NewPGSingletonLookup(pool *pgxpool.Pool, queries map[string]string) *PGSingletonLookup {
	return &PGSingletonLookup{pool: pool, queries: queries}
}

// ActiveIDs implements SingletonLookup.
func (l *PGSingletonLookup) ActiveIDs(ctx context.Context, entityName string) ([]string, error) {
	query, ok := l.queries[entityName]
	if !ok {
		return nil, fmt.Errorf("repair: no singleton query configured for %q", entityName)
	}
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
