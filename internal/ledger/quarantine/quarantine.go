// Package quarantine is the Quarantine Store: accepted corruption
// submissions are marked and moved out of the reachable set for normal
// reads, never deleted. The backing table is append-mostly and queryable
// by corruption type, confidence, and age.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no quarantine record exists for the given id.
var ErrNotFound = errors.New("quarantine: record not found")

// Status is a quarantine record's review state.
type Status string

const (
	StatusQuarantined Status = "quarantined"
	StatusReleased    Status = "released"
	StatusDiscarded   Status = "discarded"
)

// Record is one quarantined row: the original data is preserved as a
// snapshot so a later repair can relink or rebuild from it.
type Record struct {
	ID             int64          `json:"id"`
	ModelName      string         `json:"model_name"`
	ObjectID       string         `json:"object_id"`
	CorruptionType string         `json:"corruption_type"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	OriginalData   map[string]any `json:"original_data,omitempty"`
	Status         Status         `json:"status"`
	CreatedBy      int64          `json:"created_by,omitempty"`
	QuarantinedAt  time.Time      `json:"quarantined_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Filter narrows a Query call.
type Filter struct {
	CorruptionType string
	MinConfidence  float64
	OlderThan      time.Time
	// UnresolvedOnly keeps only records still awaiting review
	// (status = quarantined).
	UnresolvedOnly bool
}

// Store persists quarantine submissions in Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore builds a Postgres-backed Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Submit records a new quarantine entry. Submission never deletes or
// mutates the row it describes - that is the caller's (repair plan
// execution, which this system never performs automatically) concern.
func (s *Store) Submit(ctx context.Context, r Record) (Record, error) {
	if r.ModelName == "" || r.ObjectID == "" || r.CorruptionType == "" {
		return Record{}, errors.New("quarantine: model_name/object_id/corruption_type required")
	}
	at := r.QuarantinedAt
	if at.IsZero() {
		at = s.now()
	}
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return Record{}, err
	}
	original, err := json.Marshal(r.OriginalData)
	if err != nil {
		return Record{}, err
	}
	err = s.pool.QueryRow(ctx, `
INSERT INTO quarantine_records
  (model_name, object_id, corruption_type, confidence, reason, evidence, original_data, status, created_by, quarantined_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`,
		r.ModelName, r.ObjectID, r.CorruptionType, r.Confidence, r.Reason, evidence, original,
		StatusQuarantined, r.CreatedBy, at).Scan(&r.ID)
	if err != nil {
		return Record{}, err
	}
	r.Status = StatusQuarantined
	r.QuarantinedAt = at
	return r, nil
}

// Query returns every record matching filter, most recently quarantined
// first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	sql := `
SELECT id, model_name, object_id, corruption_type, confidence, reason, evidence, original_data, status, created_by, quarantined_at, resolved_at
FROM quarantine_records WHERE 1=1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}
	if filter.CorruptionType != "" {
		sql += " AND corruption_type=" + arg(filter.CorruptionType)
	}
	if filter.MinConfidence > 0 {
		sql += " AND confidence>=" + arg(filter.MinConfidence)
	}
	if !filter.OlderThan.IsZero() {
		sql += " AND quarantined_at<" + arg(filter.OlderThan)
	}
	if filter.UnresolvedOnly {
		sql += " AND status=" + arg(StatusQuarantined)
	}
	sql += " ORDER BY quarantined_at DESC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Release marks a record's row as reviewed and safe: the suspect data goes
// back into the reachable set. The quarantine row itself is never deleted.
func (s *Store) Release(ctx context.Context, id int64) error {
	return s.resolve(ctx, id, StatusReleased)
}

// Discard marks a record's row as reviewed and condemned. The snapshot in
// original_data remains the only copy worth keeping.
func (s *Store) Discard(ctx context.Context, id int64) error {
	return s.resolve(ctx, id, StatusDiscarded)
}

func (s *Store) resolve(ctx context.Context, id int64, to Status) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE quarantine_records SET status=$2, resolved_at=$3 WHERE id=$1 AND status=$4`,
		id, to, s.now(), StatusQuarantined)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var evidence, original []byte
	var createdBy *int64
	var resolvedAt *time.Time
	err := row.Scan(&r.ID, &r.ModelName, &r.ObjectID, &r.CorruptionType, &r.Confidence, &r.Reason,
		&evidence, &original, &r.Status, &createdBy, &r.QuarantinedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if len(evidence) > 0 {
		_ = json.Unmarshal(evidence, &r.Evidence)
	}
	if len(original) > 0 {
		_ = json.Unmarshal(original, &r.OriginalData)
	}
	if createdBy != nil {
		r.CreatedBy = *createdBy
	}
	r.ResolvedAt = resolvedAt
	return r, nil
}
