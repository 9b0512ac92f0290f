// Package idempotency is a keyed outcome cache with three lifecycle states
// (started, completed, failed). The unique constraint on (operation_type,
// idempotency_key) is the linearisation point: Begin either inserts the
// started row or loses the race, and everything else follows from that.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrAlreadyStarted is returned by Begin when another caller already holds
// the (operationType, key) pair and has not yet completed or failed.
var ErrAlreadyStarted = errors.New("idempotency: operation already in progress")

// ErrNotFound indicates the (operationType, key) pair has no record.
var ErrNotFound = errors.New("idempotency: record not found")

// ErrTokenMismatch indicates Complete/Fail was called with a token that no
// longer matches the stored record (e.g. it was cleaned up concurrently).
var ErrTokenMismatch = errors.New("idempotency: token mismatch")

// Record is the persisted row for one (operationType, key) pair.
type Record struct {
	ID            int64          `json:"id"`
	OperationType string         `json:"operation_type"`
	Key           string         `json:"key"`
	Status        Status         `json:"status"`
	ContextData   map[string]any `json:"context_data,omitempty"`
	ResultData    map[string]any `json:"result_data,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	UserRef       int64          `json:"user_ref,omitempty"`
}

// Token identifies a specific begun record so a caller can later Complete or
// Fail exactly the attempt it started, not a newer one.
type Token struct {
	OperationType string
	Key           string
	id            int64
}

// NewToken builds a Token around an already-known record id. Production
// code always obtains a Token from Begin; this exists so an in-memory
// IdempotencyCoordinator double outside this package can hand back a Token
// consistent with the record it started, without exposing the id field.
func NewToken(operationType, key string, recordID int64) Token {
	return Token{OperationType: operationType, Key: key, id: recordID}
}

// RecordID exposes the underlying row id so a caller composing its own
// atomic transaction (gateway.TxRepository.IdempotencyComplete) can
// transition the same record this Token began, without routing that
// transition through Store's own pool-bound connection.
func (t Token) RecordID() int64 { return t.id }

// Outcome is the result of Probe. Record is meaningful only when Present.
type Outcome struct {
	Present bool
	Record  Record
}

// Store persists idempotency records in Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore builds a Postgres-backed idempotency Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Probe reports the current outcome for (operationType, key) without taking
// a lock: absent, started, completed(result), or failed(error).
func (s *Store) Probe(ctx context.Context, operationType, key string) (Outcome, error) {
	if s == nil || s.pool == nil {
		return Outcome{}, errors.New("idempotency: store not initialised")
	}
	rec, err := s.load(ctx, operationType, key)
	if errors.Is(err, ErrNotFound) {
		return Outcome{Present: false}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Present: true, Record: rec}, nil
}

// Begin inserts a started record, the linearisation point for the whole
// gateway: a unique index on (operation_type, key) is the sole arbiter when
// two callers race. One insert wins; the other observes a 23505 violation
// and is translated to ErrAlreadyStarted.
func (s *Store) Begin(ctx context.Context, operationType, key string, context_ map[string]any, ttl time.Duration) (Token, error) {
	if s == nil || s.pool == nil {
		return Token{}, errors.New("idempotency: store not initialised")
	}
	if operationType == "" || key == "" {
		return Token{}, errors.New("idempotency: operation_type and key required")
	}
	ctxJSON, err := json.Marshal(context_)
	if err != nil {
		return Token{}, err
	}
	now := s.now()
	expires := now.Add(ttl)
	if ttl <= 0 {
		expires = now.Add(24 * time.Hour)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO idempotency_records (operation_type, key, status, context_data, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`, operationType, key, StatusStarted, ctxJSON, now, expires).Scan(&id)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return Token{}, ErrAlreadyStarted
		}
		return Token{}, err
	}
	return Token{OperationType: operationType, Key: key, id: id}, nil
}

// Retry re-arms a failed record: status back to started, error cleared, so
// a retry-permitting policy can re-execute under the same key. Only a
// failed record is eligible; a started or completed row under the key
// yields ErrAlreadyStarted, and the caller re-probes on its next attempt.
func (s *Store) Retry(ctx context.Context, operationType, key string) (Token, error) {
	if s == nil || s.pool == nil {
		return Token{}, errors.New("idempotency: store not initialised")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
UPDATE idempotency_records SET status=$3, error_code=NULL, created_at=$4
WHERE operation_type=$1 AND key=$2 AND status=$5
RETURNING id`, operationType, key, StatusStarted, s.now(), StatusFailed).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrAlreadyStarted
		}
		return Token{}, err
	}
	return Token{OperationType: operationType, Key: key, id: id}, nil
}

// Complete transitions a started record to completed, storing result so
// replay can re-return the original outcome without re-executing.
func (s *Store) Complete(ctx context.Context, tok Token, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	cmd, err := s.pool.Exec(ctx, `
UPDATE idempotency_records SET status=$1, result_data=$2
WHERE id=$3 AND operation_type=$4 AND key=$5 AND status=$6`,
		StatusCompleted, resultJSON, tok.id, tok.OperationType, tok.Key, StatusStarted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTokenMismatch
	}
	return nil
}

// Fail transitions a started record to failed, recording errCode so a
// retried caller with the same key observes the same failure deterministically
// instead of re-executing.
func (s *Store) Fail(ctx context.Context, tok Token, errCode string) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE idempotency_records SET status=$1, error_code=$2
WHERE id=$3 AND operation_type=$4 AND key=$5 AND status=$6`,
		StatusFailed, errCode, tok.id, tok.OperationType, tok.Key, StatusStarted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTokenMismatch
	}
	return nil
}

// Cleanup removes rows older than maxAge, in batches of batchSize, so a
// single sweep never holds a long-running delete lock. It is driven by the
// asynq periodic job registered in internal/jobs.
func (s *Store) Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := now.Add(-maxAge)
	var total int64
	for {
		cmd, err := s.pool.Exec(ctx, `
DELETE FROM idempotency_records WHERE ctid IN (
  SELECT ctid FROM idempotency_records WHERE expires_at < $1 OR created_at < $2 LIMIT $3
)`, now, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		n := cmd.RowsAffected()
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

// Statistics summarises store health for the operator CLI / HTTP surface.
type Statistics struct {
	Started   int64     `json:"started"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
	Oldest    time.Time `json:"oldest,omitempty"`
}

// GetStatistics aggregates counts per status.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	rows, err := s.pool.Query(ctx, `SELECT status, count(*), min(created_at) FROM idempotency_records GROUP BY status`)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int64
		var oldest time.Time
		if err := rows.Scan(&status, &count, &oldest); err != nil {
			return Statistics{}, err
		}
		switch status {
		case StatusStarted:
			stats.Started = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
		if stats.Oldest.IsZero() || (!oldest.IsZero() && oldest.Before(stats.Oldest)) {
			stats.Oldest = oldest
		}
	}
	return stats, rows.Err()
}

// GetHealth reports whether the store is reachable, for the CLI's health verb.
func (s *Store) GetHealth(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency: store not initialised")
	}
	return s.pool.Ping(ctx)
}

func (s *Store) load(ctx context.Context, operationType, key string) (Record, error) {
	var rec Record
	var ctxJSON, resultJSON []byte
	var errCode *string
	var userRef *int64
	err := s.pool.QueryRow(ctx, `
SELECT id, operation_type, key, status, context_data, result_data, error_code, created_at, expires_at, user_ref
FROM idempotency_records WHERE operation_type=$1 AND key=$2`, operationType, key).
		Scan(&rec.ID, &rec.OperationType, &rec.Key, &rec.Status, &ctxJSON, &resultJSON, &errCode, &rec.CreatedAt, &rec.ExpiresAt, &userRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &rec.ContextData)
	}
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &rec.ResultData)
	}
	if errCode != nil {
		rec.ErrorCode = *errCode
	}
	if userRef != nil {
		rec.UserRef = *userRef
	}
	return rec, nil
}

// Keys below are the deterministic per-domain generators, so callers
// produce collision-free keys without hand-rolling formats.

// JournalEntryKey builds the key for a journal-entry creation operation.
func JournalEntryKey(module, model, id, event string) string {
	return "JE:" + module + ":" + model + ":" + id + ":" + event
}

// StockMovementKey builds the key for a stock-movement operation.
func StockMovementKey(productID, movementType, referenceID, event string) string {
	return "SM:" + productID + ":" + movementType + ":" + referenceID + ":" + event
}
