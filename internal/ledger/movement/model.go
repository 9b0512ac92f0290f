// Package movement is the Movement Service: the inventory counterpart to
// the Accounting Gateway. Movements serialise per product through a FOR
// UPDATE row lock and ride the same idempotency store and audit trail the
// gateway uses.
package movement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the kinds of stock movement.
type Type string

const (
	TypeIn         Type = "in"
	TypeOut        Type = "out"
	TypeReturnIn   Type = "return_in"
	TypeReturnOut  Type = "return_out"
	TypeAdjustment Type = "adjustment"
)

// authorisedNegative reports whether t may drive stock below zero.
func (t Type) authorisedNegative() bool {
	return t == TypeAdjustment
}

// Balance is a product's current quantity-on-hand and moving-average cost.
type Balance struct {
	ProductID int64           `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StockMovement is a single signed quantity change against a product.
type StockMovement struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	MovementType    Type            `json:"movement_type"`
	SourceReference string          `json:"source_reference,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	DocumentNumber  string          `json:"document_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	CreatedBy       int64           `json:"created_by"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	AvgCostAfter    decimal.Decimal `json:"avg_cost_after"`
}

// Product is the subset of product-master fields the movement service needs
// to reject movements against service-typed (non-stocked) products.
type Product struct {
	ID        int64
	IsService bool
	Stockable bool
}

// ProductLookup is the read-only product-master collaborator.
type ProductLookup interface {
	Lookup(ctx context.Context, productID int64) (Product, error)
}
