// Package coa is the chart-of-accounts collaborator the gateway validates
// every posting line against: a read-only lookup carrying the is_leaf and
// postable columns the gateway checks before it will accept a line.
package coa

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ledgergate/ledgergate/internal/ledger/gateway"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// ErrNotFound indicates no account exists for the given code.
var ErrNotFound = errors.New("coa: account not found")

// Account is a chart-of-accounts node.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	IsActive  bool
	IsLeaf    bool
	Postable  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the read/write chart-of-accounts store.
type Repository interface {
	List(ctx context.Context) ([]Account, error)
	LookupByCode(ctx context.Context, code string) (Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, code, name, type, parent_id, is_active, is_leaf, postable, created_at, updated_at
FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) LookupByCode(ctx context.Context, code string) (Account, error) {
	row := r.db.QueryRow(ctx, `
SELECT id, code, name, type, parent_id, is_active, is_leaf, postable, created_at, updated_at
FROM accounts WHERE code=$1`, code)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsActive, &a.IsLeaf, &a.Postable, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// Adapter exposes Repository as gateway.AccountLookup, translating coa's
// richer Account into the narrower view the gateway needs.
type Adapter struct {
	repo Repository
}

// NewAdapter wraps repo as a gateway.AccountLookup.
func NewAdapter(repo Repository) *Adapter {
	return &Adapter{repo: repo}
}

// LookupByCode implements gateway.AccountLookup. An unknown code surfaces
// as the gateway's own invalid-account refusal rather than a lookup error.
func (a *Adapter) LookupByCode(ctx context.Context, code string) (gateway.Account, error) {
	acct, err := a.repo.LookupByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return gateway.Account{}, gateway.ErrInvalidAccount
		}
		return gateway.Account{}, err
	}
	return gateway.Account{
		ID:       acct.ID,
		Code:     acct.Code,
		Name:     acct.Name,
		IsActive: acct.IsActive,
		IsLeaf:   acct.IsLeaf,
		Postable: acct.Postable,
	}, nil
}
