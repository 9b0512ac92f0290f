package movement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeRepo is the in-memory Repository/TxRepository pair, one balance row
// per product guarded by a single mutex WithTx holds for its call, standing
// in for the per-product FOR UPDATE lock the real repository takes.
type fakeRepo struct {
	mu        sync.Mutex
	balances  map[int64]Balance
	movements []StockMovement
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{balances: make(map[int64]Balance)}
}

func (r *fakeRepo) GetBalance(ctx context.Context, productID int64) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[productID]
	if !ok {
		return Balance{}, ErrBalanceNotFound
	}
	return b, nil
}

func (r *fakeRepo) ListMovements(ctx context.Context, productID int64) ([]StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockMovement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListNegativeBalances(ctx context.Context) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Balance
	for _, b := range r.balances {
		if b.Qty.IsNegative() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &fakeTx{repo: r})
}

type fakeTx struct {
	repo *fakeRepo
}

func (t *fakeTx) GetBalanceForUpdate(ctx context.Context, productID int64) (Balance, error) {
	if b, ok := t.repo.balances[productID]; ok {
		return b, nil
	}
	return Balance{ProductID: productID, Qty: decimal.Zero, AvgCost: decimal.Zero}, nil
}

func (t *fakeTx) UpsertBalance(ctx context.Context, b Balance) error {
	t.repo.balances[b.ProductID] = b
	return nil
}

func (t *fakeTx) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	t.repo.nextID++
	m.ID = t.repo.nextID
	t.repo.movements = append(t.repo.movements, m)
	return m.ID, nil
}

// fakeIdem is the same exactly-once in-memory arbiter used in the gateway
// tests, extended with Complete since the movement service transitions
// idempotency outside its own posting transaction.
type fakeIdem struct {
	mu      sync.Mutex
	records map[string]idempotency.Record
	nextID  int64
}

func newFakeIdem() *fakeIdem { return &fakeIdem{records: make(map[string]idempotency.Record)} }

func (f *fakeIdem) key(operationType, key string) string { return operationType + ":" + key }

func (f *fakeIdem) Probe(ctx context.Context, operationType, key string) (idempotency.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(operationType, key)]
	if !ok {
		return idempotency.Outcome{Present: false}, nil
	}
	return idempotency.Outcome{Present: true, Record: rec}, nil
}

func (f *fakeIdem) Begin(ctx context.Context, operationType, key string, context_ map[string]any, ttl time.Duration) (idempotency.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(operationType, key)
	if _, ok := f.records[k]; ok {
		return idempotency.Token{}, idempotency.ErrAlreadyStarted
	}
	f.nextID++
	f.records[k] = idempotency.Record{ID: f.nextID, OperationType: operationType, Key: key, Status: idempotency.StatusStarted}
	return idempotency.NewToken(operationType, key, f.nextID), nil
}

func (f *fakeIdem) Retry(ctx context.Context, operationType, key string) (idempotency.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(operationType, key)
	rec, ok := f.records[k]
	if !ok || rec.Status != idempotency.StatusFailed {
		return idempotency.Token{}, idempotency.ErrAlreadyStarted
	}
	rec.Status = idempotency.StatusStarted
	rec.ErrorCode = ""
	f.records[k] = rec
	return idempotency.NewToken(operationType, key, rec.ID), nil
}

// Complete mirrors the JSON round trip the real row makes: numbers come
// back float64, which is what the replay path type-asserts on.
func (f *fakeIdem) Complete(ctx context.Context, tok idempotency.Token, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(tok.OperationType, tok.Key)
	rec, ok := f.records[k]
	if !ok {
		return idempotency.ErrTokenMismatch
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var roundTripped map[string]any
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		return err
	}
	rec.Status = idempotency.StatusCompleted
	rec.ResultData = roundTripped
	f.records[k] = rec
	return nil
}

func (f *fakeIdem) Fail(ctx context.Context, tok idempotency.Token, errCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(tok.OperationType, tok.Key)
	rec, ok := f.records[k]
	if !ok {
		return idempotency.ErrTokenMismatch
	}
	rec.Status = idempotency.StatusFailed
	rec.ErrorCode = errCode
	f.records[k] = rec
	return nil
}

type fakeTrail struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeTrail) Record(ctx context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func newTestBoard() *switchboard.Board {
	b := switchboard.New(nil)
	b.RegisterComponent(switchboard.ComponentFlag{Name: "inventory_enforcement", Enabled: true})
	b.RegisterWorkflow(switchboard.WorkflowFlag{
		Name: movementWorkflow, Enabled: true,
		ComponentDependencies: []string{"inventory_enforcement"},
	})
	return b
}

func TestProcessMovement_InboundThenOutboundMovingAverage(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, newFakeIdem(), &fakeTrail{}, newTestBoard(), nil, nil)
	ctx := context.Background()

	m, err := svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 1, QuantityChange: decimal.NewFromInt(10), MovementType: TypeIn,
		UnitCost: decimal.NewFromInt(100), IdempotencyKey: "mv-1", Actor: ledgershared.UserRef{ID: 1},
	})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(decimal.NewFromInt(10)))

	m, err = svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 1, QuantityChange: decimal.NewFromInt(-4), MovementType: TypeOut,
		IdempotencyKey: "mv-2", Actor: ledgershared.UserRef{ID: 1},
	})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(decimal.NewFromInt(6)))
	require.True(t, m.AvgCostAfter.Equal(decimal.NewFromInt(100)))
}

// TestProcessMovement_NegativeStockRefused asserts an ordinary outbound
// movement that would drive stock below zero is refused, while the same
// quantity change through an authorised adjustment movement is allowed.
func TestProcessMovement_NegativeStockRefused(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, newFakeIdem(), &fakeTrail{}, newTestBoard(), nil, nil)
	ctx := context.Background()

	_, err := svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 2, QuantityChange: decimal.NewFromInt(-5), MovementType: TypeOut,
		IdempotencyKey: "mv-neg", Actor: ledgershared.UserRef{ID: 1},
	})
	require.ErrorIs(t, err, ErrNegativeStock)

	balance, err := repo.GetBalance(ctx, 2)
	require.ErrorIs(t, err, ErrBalanceNotFound)
	require.True(t, balance.Qty.IsZero())

	adj, err := svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 2, QuantityChange: decimal.NewFromInt(-5), MovementType: TypeAdjustment,
		IdempotencyKey: "mv-adj", Actor: ledgershared.UserRef{ID: 1},
	})
	require.NoError(t, err)
	require.True(t, adj.BalanceAfter.Equal(decimal.NewFromInt(-5)))
}

func TestProcessMovement_ServiceProductRejected(t *testing.T) {
	repo := newFakeRepo()
	products := fakeProducts{products: map[int64]Product{3: {ID: 3, IsService: true, Stockable: false}}}
	svc := NewService(repo, newFakeIdem(), &fakeTrail{}, newTestBoard(), products, nil)

	_, err := svc.ProcessMovement(context.Background(), ProcessInput{
		ProductID: 3, QuantityChange: decimal.NewFromInt(1), MovementType: TypeIn,
		IdempotencyKey: "mv-service", Actor: ledgershared.UserRef{ID: 1},
	})
	require.ErrorIs(t, err, ErrServiceProduct)
}

type fakeProducts struct {
	products map[int64]Product
}

func (f fakeProducts) Lookup(ctx context.Context, productID int64) (Product, error) {
	return f.products[productID], nil
}

func TestProcessMovement_IdempotentReplay(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, newFakeIdem(), &fakeTrail{}, newTestBoard(), nil, nil)
	ctx := context.Background()

	in := ProcessInput{ProductID: 5, QuantityChange: decimal.NewFromInt(10), MovementType: TypeIn,
		UnitCost: decimal.NewFromInt(50), IdempotencyKey: "mv-replay", Actor: ledgershared.UserRef{ID: 1}}

	first, err := svc.ProcessMovement(ctx, in)
	require.NoError(t, err)
	second, err := svc.ProcessMovement(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	movements, err := repo.ListMovements(ctx, 5)
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

// TestProcessMovement_PolicyPermitsRetryOfFailedOutcome: with
// RetryFailedOutcomes on, a failed record is re-armed
// in place and the movement re-executes under the same key.
func TestProcessMovement_PolicyPermitsRetryOfFailedOutcome(t *testing.T) {
	repo := newFakeRepo()
	idem := newFakeIdem()
	svc := NewService(repo, idem, &fakeTrail{}, newTestBoard(), nil, nil).
		WithRetryPolicy(ledgershared.RetryPolicy{MaxAttempts: 2, Delays: []time.Duration{time.Millisecond}, RetryFailedOutcomes: true})
	ctx := context.Background()

	tok, err := idem.Begin(ctx, "process_movement", "mv-rearm", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, idem.Fail(ctx, tok, "transient outage"))

	m, err := svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 8, QuantityChange: decimal.NewFromInt(3), MovementType: TypeIn,
		UnitCost: decimal.NewFromInt(20), IdempotencyKey: "mv-rearm", Actor: ledgershared.UserRef{ID: 1},
	})
	require.NoError(t, err)
	require.True(t, m.BalanceAfter.Equal(decimal.NewFromInt(3)))

	outcome, err := idem.Probe(ctx, "process_movement", "mv-rearm")
	require.NoError(t, err)
	require.Equal(t, idempotency.StatusCompleted, outcome.Record.Status)
}

// TestProcessMovement_FailedOutcomeReplaysByDefault pins the default: the
// recorded failure surfaces, nothing re-executes.
func TestProcessMovement_FailedOutcomeReplaysByDefault(t *testing.T) {
	repo := newFakeRepo()
	idem := newFakeIdem()
	svc := NewService(repo, idem, &fakeTrail{}, newTestBoard(), nil, nil)
	ctx := context.Background()

	tok, err := idem.Begin(ctx, "process_movement", "mv-failed", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, idem.Fail(ctx, tok, "boom"))

	_, err = svc.ProcessMovement(ctx, ProcessInput{
		ProductID: 8, QuantityChange: decimal.NewFromInt(3), MovementType: TypeIn,
		UnitCost: decimal.NewFromInt(20), IdempotencyKey: "mv-failed", Actor: ledgershared.UserRef{ID: 1},
	})
	require.ErrorContains(t, err, "prior attempt failed")

	movements, err := repo.ListMovements(ctx, 8)
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestProcessMovement_ConcurrentSameProduct(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, newFakeIdem(), &fakeTrail{}, newTestBoard(), nil, nil)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ProcessMovement(ctx, ProcessInput{
				ProductID: 9, QuantityChange: decimal.NewFromInt(1), MovementType: TypeIn,
				UnitCost: decimal.NewFromInt(10),
				IdempotencyKey: "mv-concurrent-" + string(rune('a'+i)),
				Actor:          ledgershared.UserRef{ID: 1},
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := repo.GetBalance(ctx, 9)
	require.NoError(t, err)
	require.True(t, balance.Qty.Equal(decimal.NewFromInt(n)), "every concurrent inbound must be reflected exactly once")
}
