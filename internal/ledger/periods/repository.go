package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository exposes read access to periods outside any transaction, used
// by read paths such as reporting and the operator CLI.
type Repository interface {
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context) ([]Period, error)
}

// TxRepository is the transaction-scoped view the gateway composes into its
// own atomic posting transaction, so period resolution and row locking
// happen under the same commit as the journal entry write.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	FindOpenByDate(ctx context.Context, date time.Time) (Period, error)
	FindNextOpenAfter(ctx context.Context, date time.Time) (Period, error)
	LockEntriesInRange(ctx context.Context, periodID int64) (int64, error)
	Close(ctx context.Context, periodID int64, actorID int64, closedAt time.Time) error
	Insert(ctx context.Context, p Period) (Period, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return scanOne(r.pool.QueryRow(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return scanOne(r.pool.QueryRow(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods WHERE id=$1`, id))
}

func (r *repository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row pgx.Row) (Period, error) {
	return scanRow(row)
}

func scanRow(row rowScanner) (Period, error) {
	var p Period
	var closedBy *int64
	err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &closedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod
		}
		return Period{}, err
	}
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	return p, nil
}

// TxRepositoryFor builds a TxRepository bound to an open transaction. The
// gateway obtains tx from its own pgx.BeginTx call and composes periods
// operations into the same atomic unit.
func TxRepositoryFor(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanOne(r.tx.QueryRow(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) FindOpenByDate(ctx context.Context, date time.Time) (Period, error) {
	return scanOne(r.tx.QueryRow(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods WHERE status='OPEN' AND $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
}

func (r *txRepository) FindNextOpenAfter(ctx context.Context, date time.Time) (Period, error) {
	return scanOne(r.tx.QueryRow(ctx, `
SELECT id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM accounting_periods WHERE status='OPEN' AND start_date >= $1 ORDER BY start_date ASC LIMIT 1`, date))
}

// LockEntriesInRange sets is_locked=true on every posted, not yet locked
// entry assigned to periodID, as a single batch statement, returning the
// number of rows affected.
func (r *txRepository) LockEntriesInRange(ctx context.Context, periodID int64) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `
UPDATE journal_entries SET is_locked=true, locked_at=NOW()
WHERE accounting_period_id=$1 AND status='posted' AND is_locked=false`, periodID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) Close(ctx context.Context, periodID int64, actorID int64, closedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `
UPDATE accounting_periods SET status='CLOSED', closed_at=$2, closed_by=$3, updated_at=$2
WHERE id=$1 AND status='OPEN'`, periodID, closedAt, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyClosed
	}
	return nil
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `
INSERT INTO accounting_periods (name, start_date, end_date, status)
VALUES ($1,$2,$3,'OPEN')
RETURNING id, created_at, updated_at`, p.Name, p.StartDate, p.EndDate)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	p.Status = StatusOpen
	return p, nil
}
