package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
	"github.com/shopspring/decimal"
)

// Repository exposes read-only access outside any posting transaction.
type Repository interface {
	List(ctx context.Context) ([]JournalEntry, error)
	Get(ctx context.Context, id int64) (JournalEntry, error)
	CountUnlockedPostedInPeriod(ctx context.Context, periodID int64) (int64, error)
	AllSourceTriples(ctx context.Context) (map[int64]ledgershared.Triple, error)
	ListLineTotals(ctx context.Context) (map[int64]LineTotals, error)
	SetSourceTriple(ctx context.Context, entryID int64, t ledgershared.Triple) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// LineTotals is the debit/credit sum of one posted entry's lines, for the
// UNBALANCED_JOURNAL_ENTRIES repair scanner.
type LineTotals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TxRepository is the write path the gateway composes its atomic posting
// unit from: entry + lines + idempotency completion + audit row + numbering,
// all under one transaction. The Begin/Fail halves of the
// idempotency lifecycle are deliberately NOT here: the "started" record is
// inserted as its own committed operation (it is the mutual-exclusion lock
// two racing callers arbitrate over), and a failure must durably mark that
// same record "failed" even though this transaction rolls back, so Service
// drives those two transitions through internal/ledger/idempotency.Store
// directly, outside this transaction. IdempotencyComplete, by contrast, is
// part of the same atomic unit as the entry/lines/audit row, so it is
// issued here against the live tx rather than delegated to the Store.
type TxRepository interface {
	periods.TxRepository

	InsertEntry(ctx context.Context, in CreateEntryInput, number string, periodID int64, locked bool) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error)
	UpdateStatus(ctx context.Context, entryID int64, status Status, postedBy int64, postedAt time.Time) error
	SetLocked(ctx context.Context, entryID int64, actor int64, at time.Time) error
	DeleteEntry(ctx context.Context, entryID int64) error
	NextNumber(ctx context.Context, prefix string) (string, error)

	IdempotencyComplete(ctx context.Context, recordID int64, entryID int64, number string) error
	InsertAuditRow(ctx context.Context, e audit.Entry) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, number, date, entry_type, status, description, accounting_period_id,
       source_module, source_model, source_id, idempotency_key, is_reversal, original_entry_id,
       is_locked, created_at, updated_at
FROM journal_entries ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get loads an entry with its lines: replay and the reversal path both need
// the full line set, not just the header row.
func (r *repository) Get(ctx context.Context, id int64) (JournalEntry, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, number, date, entry_type, status, description, accounting_period_id,
       source_module, source_model, source_id, idempotency_key, is_reversal, original_entry_id,
       is_locked, created_at, updated_at
FROM journal_entries WHERE id=$1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, journal_entry_id, account_code, debit, credit, description, cost_center, project
FROM journal_entry_lines WHERE journal_entry_id=$1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func (r *repository) CountUnlockedPostedInPeriod(ctx context.Context, periodID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
SELECT count(*) FROM journal_entries WHERE accounting_period_id=$1 AND status='posted' AND is_locked=false`, periodID).Scan(&n)
	return n, err
}

func (r *repository) AllSourceTriples(ctx context.Context) (map[int64]ledgershared.Triple, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, source_module, source_model, source_id FROM journal_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]ledgershared.Triple)
	for rows.Next() {
		var id int64
		var t ledgershared.Triple
		if err := rows.Scan(&id, &t.Module, &t.Model, &t.ID); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}

// ListLineTotals sums debit/credit per posted entry (reversals included) directly
// in SQL so the UNBALANCED_JOURNAL_ENTRIES scanner never has to materialise
// every entry's full line set in application memory.
func (r *repository) ListLineTotals(ctx context.Context) (map[int64]LineTotals, error) {
	rows, err := r.pool.Query(ctx, `
SELECT je.id, COALESCE(SUM(l.debit::numeric),0), COALESCE(SUM(l.credit::numeric),0)
FROM journal_entries je
JOIN journal_entry_lines l ON l.journal_entry_id = je.id
WHERE je.status='posted'
GROUP BY je.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]LineTotals)
	for rows.Next() {
		var id int64
		var debit, credit string
		if err := rows.Scan(&id, &debit, &credit); err != nil {
			return nil, err
		}
		d, _ := decimal.NewFromString(debit)
		c, _ := decimal.NewFromString(credit)
		out[id] = LineTotals{Debit: d, Credit: c}
	}
	return out, rows.Err()
}

// SetSourceTriple rewrites an orphan's source reference. It backs the
// linkage backfill path (linkage.Backfill) and touches nothing else on the
// entry.
func (r *repository) SetSourceTriple(ctx context.Context, entryID int64, t ledgershared.Triple) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE journal_entries SET source_module=$2, source_model=$3, source_id=$4, updated_at=NOW() WHERE id=$1`,
		entryID, t.Module, t.Model, t.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx, periodsTx: periods.TxRepositoryFor(tx)}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx        pgx.Tx
	periodsTx periods.TxRepository
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	return t.periodsTx.GetForUpdate(ctx, id)
}

func (t *txRepository) FindOpenByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	return t.periodsTx.FindOpenByDate(ctx, date)
}

func (t *txRepository) FindNextOpenAfter(ctx context.Context, date time.Time) (periods.Period, error) {
	return t.periodsTx.FindNextOpenAfter(ctx, date)
}

func (t *txRepository) LockEntriesInRange(ctx context.Context, periodID int64) (int64, error) {
	return t.periodsTx.LockEntriesInRange(ctx, periodID)
}

func (t *txRepository) Close(ctx context.Context, periodID int64, actorID int64, closedAt time.Time) error {
	return t.periodsTx.Close(ctx, periodID, actorID, closedAt)
}

func (t *txRepository) Insert(ctx context.Context, p periods.Period) (periods.Period, error) {
	return t.periodsTx.Insert(ctx, p)
}

// NextNumber mints the next gap-free number for prefix by locking the
// counter row for the duration of the transaction, then incrementing it.
// A storage-backed counter avoids the read-max-and-insert race entirely.
func (t *txRepository) NextNumber(ctx context.Context, prefix string) (string, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO entry_counters (prefix, next_value) VALUES ($1, 2)
ON CONFLICT (prefix) DO UPDATE SET next_value = entry_counters.next_value + 1
RETURNING entry_counters.next_value - 1`, prefix).Scan(&next)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, next), nil
}

func (t *txRepository) InsertEntry(ctx context.Context, in CreateEntryInput, number string, periodID int64, locked bool) (JournalEntry, error) {
	row := t.tx.QueryRow(ctx, `
INSERT INTO journal_entries
  (number, date, entry_type, status, description, reference, reference_type, reference_id,
   source_module, source_model, source_id, accounting_period_id, financial_category, financial_subcategory,
   idempotency_key, created_by_service, original_entry_id, is_reversal, reversal_reason, is_locked)
VALUES ($1,$2,$3,'draft',$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'AccountingGateway',$15,$16,$17,$18)
RETURNING id, created_at, updated_at`,
		number, in.Date, in.EntryType, in.Description, in.Reference, in.ReferenceType, in.ReferenceID,
		in.Source.Module, in.Source.Model, in.Source.ID, periodID, in.FinancialCategory, in.FinancialSubcat,
		in.IdempotencyKey, nullableInt(originalEntryIDOf(in)), isReversalOf(in), reversalReasonOf(in), locked)
	var e JournalEntry
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	e.Number = number
	e.Date = in.Date
	e.EntryType = in.EntryType
	e.Status = StatusDraft
	e.Description = in.Description
	e.Reference = in.Reference
	e.ReferenceType = in.ReferenceType
	e.ReferenceID = in.ReferenceID
	e.Source = in.Source
	e.AccountingPeriod = periodID
	e.FinancialCategory = in.FinancialCategory
	e.FinancialSubcat = in.FinancialSubcat
	e.IdempotencyKey = in.IdempotencyKey
	e.CreatedByService = "AccountingGateway"
	e.IsLocked = locked
	return e, nil
}

// originalEntryIDOf/isReversalOf/reversalReasonOf extract reversal metadata
// carried on CreateEntryInput through its unexported fields when the gateway's
// reversal path builds a synthetic CreateEntryInput. They live here, not on
// CreateEntryInput itself, because ordinary callers never populate them.
func originalEntryIDOf(in CreateEntryInput) int64 { return in.originalEntryID }
func isReversalOf(in CreateEntryInput) bool       { return in.isReversal }
func reversalReasonOf(in CreateEntryInput) string { return in.reversalReason }

func (t *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx, `
INSERT INTO journal_entry_lines (journal_entry_id, account_code, debit, credit, description, cost_center, project)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entryID, l.AccountCode, l.Debit.String(), l.Credit.String(), l.Description, nullableStr(l.CostCenter), nullableStr(l.Project)); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	e, err := scanEntryTx(ctx, t.tx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	rows, err := t.tx.Query(ctx, `
SELECT id, journal_entry_id, account_code, debit, credit, description, cost_center, project
FROM journal_entry_lines WHERE journal_entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func scanLine(row rowScanner) (JournalEntryLine, error) {
	var l JournalEntryLine
	var debit, credit string
	var costCenter, project *string
	if err := row.Scan(&l.ID, &l.JournalID, &l.AccountCode, &debit, &credit, &l.Description, &costCenter, &project); err != nil {
		return JournalEntryLine{}, err
	}
	l.Debit, _ = decimal.NewFromString(debit)
	l.Credit, _ = decimal.NewFromString(credit)
	if costCenter != nil {
		l.CostCenter = *costCenter
	}
	if project != nil {
		l.Project = *project
	}
	return l, nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, entryID int64, status Status, postedBy int64, postedAt time.Time) error {
	cmd, err := t.tx.Exec(ctx, `
UPDATE journal_entries SET status=$2, posted_by=$3, posted_at=$4, updated_at=$4 WHERE id=$1`,
		entryID, status, postedBy, postedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (t *txRepository) SetLocked(ctx context.Context, entryID int64, actor int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
UPDATE journal_entries SET is_locked=true, locked_at=$2, locked_by=$3 WHERE id=$1`, entryID, at, actor)
	return err
}

// DeleteEntry removes a draft entry and its lines. Callers enforce the
// draft-only rule before reaching here.
func (t *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM journal_entry_lines WHERE journal_entry_id=$1`, entryID); err != nil {
		return err
	}
	cmd, err := t.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// IdempotencyComplete transitions the record idempotency.Store.Begin created
// to completed, scoped to this transaction so its commit/rollback ties to
// the entry write: the two must land or vanish together.
func (t *txRepository) IdempotencyComplete(ctx context.Context, recordID int64, entryID int64, number string) error {
	result, err := json.Marshal(map[string]any{"entry_id": entryID, "entry_number": number})
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
UPDATE idempotency_records SET status='completed', result_data=$2 WHERE id=$1`,
		recordID, result)
	return err
}

// InsertAuditRow writes the success-path audit row inside the posting
// transaction, duplicating audit.Store.Record's SQL against the live tx so
// the row commits or rolls back atomically with the entry.
func (t *txRepository) InsertAuditRow(ctx context.Context, e audit.Entry) error {
	service := e.Service
	if service == "" {
		service = "AccountingGateway"
	}
	before, err := json.Marshal(e.BeforeData)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.AfterData)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO audit_trail (model_name, object_id, operation, actor_id, service, before_data, after_data, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ModelName, e.ObjectID, e.Operation, e.ActorID, service, before, after, at)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (JournalEntry, error) {
	var e JournalEntry
	var originalID *int64
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.EntryType, &e.Status, &e.Description, &e.AccountingPeriod,
		&e.Source.Module, &e.Source.Model, &e.Source.ID, &e.IdempotencyKey, &e.IsReversal, &originalID,
		&e.IsLocked, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	e.OriginalEntryID = originalID
	return e, nil
}

func scanEntryTx(ctx context.Context, tx pgx.Tx, entryID int64) (JournalEntry, error) {
	row := tx.QueryRow(ctx, `
SELECT id, number, date, entry_type, status, description, accounting_period_id,
       source_module, source_model, source_id, idempotency_key, is_reversal, original_entry_id,
       is_locked, created_at, updated_at
FROM journal_entries WHERE id=$1`, entryID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
