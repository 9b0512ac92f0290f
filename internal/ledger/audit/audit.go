// Package audit is the single write-only operation log used by every
// governance component. Callers depend on the audit.Trail interface, not
// on the Postgres sink, so tests and alternative stores can stand in.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a single append-only record. No field is ever mutated once
// written.
type Entry struct {
	ID         int64
	ModelName  string
	ObjectID   string
	Operation  string
	ActorID    int64
	Service    string
	BeforeData map[string]any
	AfterData  map[string]any
	At         time.Time
}

// Trail is the append-only audit log contract every governance component
// writes through. There is deliberately no Update or Delete method.
type Trail interface {
	Record(ctx context.Context, e Entry) error
}

// Store is the Postgres-backed Trail implementation.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore builds a Postgres-backed audit Trail.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Record persists e. It is append-only: the audit_trail table carries no
// update path.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.pool == nil {
		return errors.New("audit: store not initialised")
	}
	if e.ModelName == "" || e.ObjectID == "" || e.Operation == "" {
		return errors.New("audit: model_name/object_id/operation required")
	}
	if e.Service == "" {
		e.Service = "AccountingGateway"
	}
	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	before, err := json.Marshal(e.BeforeData)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.AfterData)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_trail (model_name, object_id, operation, actor_id, service, before_data, after_data, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ModelName, e.ObjectID, e.Operation, e.ActorID, e.Service, before, after, at)
	return err
}
