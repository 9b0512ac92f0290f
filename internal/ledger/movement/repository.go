package movement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrBalanceNotFound indicates no balance row exists yet for a product - the
// first movement against it starts from a zero balance.
var ErrBalanceNotFound = errors.New("movement: balance not found")

// Repository exposes read-only access outside any posting transaction.
type Repository interface {
	GetBalance(ctx context.Context, productID int64) (Balance, error)
	ListMovements(ctx context.Context, productID int64) ([]StockMovement, error)
	ListNegativeBalances(ctx context.Context) ([]Balance, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the per-product-locked write path postMovement composes
// its atomic unit from.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, b Balance) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `
SELECT product_id, qty, avg_cost, updated_at FROM stock_balances WHERE product_id=$1`, productID))
}

func (r *repository) ListMovements(ctx context.Context, productID int64) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, product_id, quantity_change, movement_type, source_reference, idempotency_key,
       unit_cost, document_number, notes, timestamp, created_by, balance_after, avg_cost_after
FROM stock_movements WHERE product_id=$1 ORDER BY id DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListNegativeBalances returns every product balance currently below zero,
// for the NEGATIVE_STOCK repair scanner.
func (r *repository) ListNegativeBalances(ctx context.Context) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `
SELECT product_id, qty, avg_cost, updated_at FROM stock_balances WHERE qty < 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

// GetBalanceForUpdate locks the product's balance row for the duration of
// the transaction, serialising every racing writer against the same
// product.
func (t *txRepository) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	b, err := scanBalance(t.tx.QueryRow(ctx, `
SELECT product_id, qty, avg_cost, updated_at FROM stock_balances WHERE product_id=$1 FOR UPDATE`, productID))
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{ProductID: productID, Qty: decimal.Zero, AvgCost: decimal.Zero}, nil
	}
	return b, err
}

func (t *txRepository) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO stock_balances (product_id, qty, avg_cost, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id) DO UPDATE SET qty=$2, avg_cost=$3, updated_at=NOW()`,
		b.ProductID, b.Qty.String(), b.AvgCost.String())
	return err
}

func (t *txRepository) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
INSERT INTO stock_movements
  (product_id, quantity_change, movement_type, source_reference, idempotency_key,
   unit_cost, document_number, notes, timestamp, created_by, balance_after, avg_cost_after)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id`,
		m.ProductID, m.QuantityChange.String(), m.MovementType, m.SourceReference, m.IdempotencyKey,
		m.UnitCost.String(), m.DocumentNumber, m.Notes, m.Timestamp, m.CreatedBy,
		m.BalanceAfter.String(), m.AvgCostAfter.String()).Scan(&id)
	return id, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (Balance, error) {
	var b Balance
	var qty, avg string
	err := row.Scan(&b.ProductID, &qty, &avg, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	b.Qty, _ = decimal.NewFromString(qty)
	b.AvgCost, _ = decimal.NewFromString(avg)
	return b, nil
}

func scanMovement(row rowScanner) (StockMovement, error) {
	var m StockMovement
	var qtyChange, unitCost, balanceAfter, avgCostAfter string
	err := row.Scan(&m.ID, &m.ProductID, &qtyChange, &m.MovementType, &m.SourceReference, &m.IdempotencyKey,
		&unitCost, &m.DocumentNumber, &m.Notes, &m.Timestamp, &m.CreatedBy, &balanceAfter, &avgCostAfter)
	if err != nil {
		return StockMovement{}, err
	}
	m.QuantityChange, _ = decimal.NewFromString(qtyChange)
	m.UnitCost, _ = decimal.NewFromString(unitCost)
	m.BalanceAfter, _ = decimal.NewFromString(balanceAfter)
	m.AvgCostAfter, _ = decimal.NewFromString(avgCostAfter)
	return m, nil
}
