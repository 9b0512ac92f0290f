package movement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProductNotFound indicates no product row exists for the given id.
var ErrProductNotFound = errors.New("movement: product not found")

type productLookup struct {
	pool *pgxpool.Pool
}

// NewProductLookup builds a Postgres-backed ProductLookup against the
// product master.
func NewProductLookup(pool *pgxpool.Pool) ProductLookup {
	return &productLookup{pool: pool}
}

func (p *productLookup) Lookup(ctx context.Context, productID int64) (Product, error) {
	var product Product
	err := p.pool.QueryRow(ctx, `
SELECT id, is_service, stockable FROM products WHERE id=$1`, productID).
		Scan(&product.ID, &product.IsService, &product.Stockable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return product, nil
}
