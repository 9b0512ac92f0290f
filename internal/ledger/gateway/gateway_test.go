package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledgergate/ledgergate/internal/ledger/audit"
	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
	"github.com/ledgergate/ledgergate/internal/ledger/linkage"
	"github.com/ledgergate/ledgergate/internal/ledger/periods"
	"github.com/ledgergate/ledgergate/internal/ledger/switchboard"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeRepo is the in-memory Repository/TxRepository pair every gateway test
// in this file posts through: a plain map-backed store guarded by a single
// mutex that WithTx holds for its whole call, standing in for Postgres's
// row locking.
type fakeRepo struct {
	mu          sync.Mutex
	periods     []periods.Period
	entries     map[int64]JournalEntry
	nextEntryID int64
	counters    map[string]int64
	auditRows   []audit.Entry

	// idem lets fakeTx.IdempotencyComplete mirror the real TxRepository,
	// which transitions the begun record inside the posting transaction.
	idem *fakeIdem
}

func newFakeRepo(period periods.Period) *fakeRepo {
	return &fakeRepo{
		periods:  []periods.Period{period},
		entries:  make(map[int64]JournalEntry),
		counters: make(map[string]int64),
	}
}

func (r *fakeRepo) List(ctx context.Context) ([]JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JournalEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return e, nil
}

func (r *fakeRepo) CountUnlockedPostedInPeriod(ctx context.Context, periodID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.AccountingPeriod == periodID && e.Status == StatusPosted && !e.IsLocked {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) AllSourceTriples(ctx context.Context) (map[int64]ledgershared.Triple, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]ledgershared.Triple, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Source
	}
	return out, nil
}

func (r *fakeRepo) ListLineTotals(ctx context.Context) (map[int64]LineTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]LineTotals, len(r.entries))
	for id, e := range r.entries {
		var t LineTotals
		for _, l := range e.Lines {
			t.Debit = t.Debit.Add(l.Debit)
			t.Credit = t.Credit.Add(l.Credit)
		}
		out[id] = t
	}
	return out, nil
}

func (r *fakeRepo) SetSourceTriple(ctx context.Context, entryID int64, triple ledgershared.Triple) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	e.Source = triple
	r.entries[entryID] = e
	return nil
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &fakeTx{repo: r})
}

type fakeTx struct {
	repo *fakeRepo
}

func (t *fakeTx) GetForUpdate(ctx context.Context, id int64) (periods.Period, error) {
	for _, p := range t.repo.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoOpenPeriod
}

func (t *fakeTx) FindOpenByDate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range t.repo.periods {
		if p.Status == periods.StatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoOpenPeriod
}

func (t *fakeTx) FindNextOpenAfter(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range t.repo.periods {
		if p.Status == periods.StatusOpen && !p.StartDate.Before(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoOpenPeriod
}

func (t *fakeTx) LockEntriesInRange(ctx context.Context, periodID int64) (int64, error) {
	var n int64
	for id, e := range t.repo.entries {
		if e.AccountingPeriod == periodID && e.Status == StatusPosted && !e.IsLocked {
			e.IsLocked = true
			t.repo.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) Close(ctx context.Context, periodID int64, actorID int64, closedAt time.Time) error {
	for i, p := range t.repo.periods {
		if p.ID == periodID {
			t.repo.periods[i].Status = periods.StatusClosed
			t.repo.periods[i].ClosedAt = &closedAt
			t.repo.periods[i].ClosedBy = actorID
			return nil
		}
	}
	return periods.ErrAlreadyClosed
}

func (t *fakeTx) Insert(ctx context.Context, p periods.Period) (periods.Period, error) {
	p.ID = int64(len(t.repo.periods) + 1)
	t.repo.periods = append(t.repo.periods, p)
	return p, nil
}

func (t *fakeTx) NextNumber(ctx context.Context, prefix string) (string, error) {
	t.repo.counters[prefix]++
	return fmt.Sprintf("%s-%04d", prefix, t.repo.counters[prefix]), nil
}

func (t *fakeTx) InsertEntry(ctx context.Context, in CreateEntryInput, number string, periodID int64, locked bool) (JournalEntry, error) {
	t.repo.nextEntryID++
	e := JournalEntry{
		ID:                t.repo.nextEntryID,
		Number:            number,
		Date:              in.Date,
		EntryType:         in.EntryType,
		Status:            StatusDraft,
		Description:       in.Description,
		Reference:         in.Reference,
		ReferenceType:     in.ReferenceType,
		ReferenceID:       in.ReferenceID,
		Source:            in.Source,
		AccountingPeriod:  periodID,
		FinancialCategory: in.FinancialCategory,
		FinancialSubcat:   in.FinancialSubcat,
		IdempotencyKey:    in.IdempotencyKey,
		CreatedByService:  "AccountingGateway",
		OriginalEntryID:   nilIfZero(in.originalEntryID),
		IsReversal:        in.isReversal,
		ReversalReason:    in.reversalReason,
		IsLocked:          locked,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	t.repo.entries[e.ID] = e
	return e, nil
}

func nilIfZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func (t *fakeTx) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	e := t.repo.entries[entryID]
	for _, l := range lines {
		e.Lines = append(e.Lines, JournalEntryLine{
			JournalID:   entryID,
			AccountCode: l.AccountCode,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
			CostCenter:  l.CostCenter,
			Project:     l.Project,
		})
	}
	t.repo.entries[entryID] = e
	return nil
}

func (t *fakeTx) GetWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	e, ok := t.repo.entries[entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	return e, nil
}

func (t *fakeTx) UpdateStatus(ctx context.Context, entryID int64, status Status, postedBy int64, postedAt time.Time) error {
	e, ok := t.repo.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = status
	e.PostedBy = postedBy
	e.PostedAt = &postedAt
	t.repo.entries[entryID] = e
	return nil
}

func (t *fakeTx) SetLocked(ctx context.Context, entryID int64, actor int64, at time.Time) error {
	e, ok := t.repo.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	e.IsLocked = true
	e.LockedAt = &at
	e.LockedBy = actor
	t.repo.entries[entryID] = e
	return nil
}

func (t *fakeTx) DeleteEntry(ctx context.Context, entryID int64) error {
	if _, ok := t.repo.entries[entryID]; !ok {
		return ErrEntryNotFound
	}
	delete(t.repo.entries, entryID)
	return nil
}

func (t *fakeTx) IdempotencyComplete(ctx context.Context, recordID int64, entryID int64, number string) error {
	if t.repo.idem != nil {
		t.repo.idem.complete(recordID, entryID, number)
	}
	return nil
}

func (t *fakeTx) InsertAuditRow(ctx context.Context, e audit.Entry) error {
	t.repo.auditRows = append(t.repo.auditRows, e)
	return nil
}

// fakeIdem is an in-memory IdempotencyCoordinator whose Begin enforces the
// same exactly-once arbitration the real Store gets for free from a unique
// index: the first caller to observe a key absent wins, every later caller
// for the same key gets idempotency.ErrAlreadyStarted.
type fakeIdem struct {
	mu      sync.Mutex
	records map[string]idempotency.Record
	nextID  int64
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{records: make(map[string]idempotency.Record)}
}

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
	f.records[k] = idempotency.Record{
		ID: f.nextID, OperationType: operationType, Key: key,
		Status: idempotency.StatusStarted, ContextData: context_,
	}
	return idempotency.NewToken(operationType, key, f.nextID), nil
}

// Retry mirrors Store.Retry: a failed record is re-armed in place; any
// other state under the key reports ErrAlreadyStarted.
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

// complete mirrors TxRepository.IdempotencyComplete: it stores the outcome
// the same way the real row lands after a JSON round trip, numbers as
// float64.
func (f *fakeIdem) complete(recordID, entryID int64, number string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, rec := range f.records {
		if rec.ID == recordID {
			rec.Status = idempotency.StatusCompleted
			rec.ResultData = map[string]any{"entry_id": float64(entryID), "entry_number": number}
			f.records[k] = rec
			return
		}
	}
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

// fakeTrail collects every audited entry for assertions.
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

// fakeAccounts is a chart-of-accounts collaborator backed by a fixed map.
type fakeAccounts struct {
	accounts map[string]Account
}

func (f fakeAccounts) LookupByCode(ctx context.Context, code string) (Account, error) {
	a, ok := f.accounts[code]
	if !ok {
		return Account{}, ErrInvalidAccount
	}
	return a, nil
}

func postableAccounts() fakeAccounts {
	return fakeAccounts{accounts: map[string]Account{
		"1000": {Code: "1000", Name: "Cash", IsActive: true, IsLeaf: true, Postable: true},
		"4000": {Code: "4000", Name: "Tuition Revenue", IsActive: true, IsLeaf: true, Postable: true},
		"9999": {Code: "9999", Name: "Suspense (not postable)", IsActive: true, IsLeaf: true, Postable: false},
	}}
}

const studentFeeModule = "sales.student_fee"

func newTestBoard() *switchboard.Board {
	b := switchboard.New(nil)
	b.RegisterComponent(switchboard.ComponentFlag{Name: "accounting_gateway_enforcement", Enabled: true})
	b.RegisterWorkflow(switchboard.WorkflowFlag{
		Name: entryWorkflow, Enabled: true,
		ComponentDependencies: []string{"accounting_gateway_enforcement"},
	})
	b.RegisterWorkflow(switchboard.WorkflowFlag{
		Name: reversalWorkflow, Enabled: true,
		ComponentDependencies: []string{"accounting_gateway_enforcement"},
	})
	return b
}

func newTestLinkage() *linkage.Registry {
	reg := linkage.NewRegistry([]string{studentFeeModule})
	reg.Allow(studentFeeModule, alwaysExists{})
	return reg
}

type alwaysExists struct{}

func (alwaysExists) Exists(ctx context.Context, t ledgershared.Triple) (bool, error) { return true, nil }

func openPeriod() periods.Period {
	now := time.Now()
	return periods.Period{
		ID: 1, Name: "2026-07",
		StartDate: now.AddDate(0, 0, -15),
		EndDate:   now.AddDate(0, 0, 15),
		Status:    periods.StatusOpen,
	}
}

func newTestService(t *testing.T, repo *fakeRepo, idem IdempotencyCoordinator, board WorkflowGate, reg LinkageValidator) *Service {
	t.Helper()
	if fi, ok := idem.(*fakeIdem); ok {
		repo.idem = fi
	}
	// Millisecond backoff keeps the contended-key retries from slowing
	// the suite down.
	return NewService(repo, idem, &fakeTrail{}, board, reg, postableAccounts()).
		WithRetryPolicy(ledgershared.RetryPolicy{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}})
}

func studentFeeEntry(key string) CreateEntryInput {
	return CreateEntryInput{
		Source:         ledgershared.Triple{Module: "sales", Model: "student_fee", ID: uuid.New()},
		IdempotencyKey: key,
		Actor:          ledgershared.UserRef{ID: 7, Name: "bursar"},
		EntryType:      EntryTypeAutomatic,
		Description:    "Student fee invoice",
		Date:           time.Now(),
		Lines: []LineInput{
			{AccountCode: "1000", Debit: decimal.NewFromInt(100)},
			{AccountCode: "4000", Credit: decimal.NewFromInt(100)},
		},
	}
}

func TestCreateJournalEntry_HighPriorityWorkflowAutoLocks(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	board := newTestBoard()
	board.RegisterWorkflow(switchboard.WorkflowFlag{
		Name: entryWorkflow, Enabled: true, HighPriority: true,
		ComponentDependencies: []string{"accounting_gateway_enforcement"},
	})
	svc := newTestService(t, repo, newFakeIdem(), board, newTestLinkage())

	entry, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-1"))
	require.NoError(t, err)
	require.Equal(t, "JE-0001", entry.Number)
	require.Equal(t, StatusPosted, entry.Status)
	require.True(t, entry.IsLocked)
	require.NotNil(t, entry.LockedAt)
}

func TestCreateJournalEntry_IdempotentReplay(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage())
	ctx := context.Background()

	first, err := svc.CreateJournalEntry(ctx, studentFeeEntry("idem-replay"))
	require.NoError(t, err)

	second, err := svc.CreateJournalEntry(ctx, studentFeeEntry("idem-replay"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Number, second.Number)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "replay must not insert a second entry")
}

func TestCreateJournalEntry_InvalidSourceLinkageRejected(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	reg := linkage.NewRegistry(nil) // nothing allowlisted
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), reg)

	_, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-orphan"))
	require.ErrorIs(t, err, ErrInvalidSourceLinkage)
}

func TestCreateJournalEntry_NoOpenPeriodRejected(t *testing.T) {
	closed := openPeriod()
	closed.Status = periods.StatusClosed
	repo := newFakeRepo(closed)
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage())

	_, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-closed"))
	require.ErrorIs(t, err, ErrNoOpenPeriod)
}

func TestCreateJournalEntry_UnbalancedRejected(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage())

	in := studentFeeEntry("idem-unbalanced")
	in.Lines[1].Credit = decimal.NewFromInt(90)

	_, err := svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, ErrUnbalancedEntry)
}

func TestCreateJournalEntry_WorkflowDisabledRejected(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	board := newTestBoard()
	board.DisableWorkflow(context.Background(), entryWorkflow, ledgershared.UserRef{ID: 1})
	svc := newTestService(t, repo, newFakeIdem(), board, newTestLinkage())

	_, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-disabled"))
	require.ErrorIs(t, err, ErrWorkflowDisabled)
	require.Len(t, board.Violations(), 1)
}

func TestCreateJournalEntry_InvalidAccountRejected(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage())

	in := studentFeeEntry("idem-badaccount")
	in.Lines[0].AccountCode = "9999" // registered but not postable

	_, err := svc.CreateJournalEntry(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidAccount)
}

// TestCreateJournalEntry_ConcurrentSameKey races N callers against the same
// idempotency key and asserts the Begin linearisation point lets exactly one
// of them actually post, while every other observes either the in-progress
// state or - once the winner finishes - the replayed outcome; no caller ever
// reports a distinct second entry for the same key.
func TestCreateJournalEntry_ConcurrentSameKey(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	idem := newFakeIdem()
	svc := newTestService(t, repo, idem, newTestBoard(), newTestLinkage())

	const n = 20
	var wg sync.WaitGroup
	results := make([]JournalEntry, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-race"))
		}(i)
	}
	wg.Wait()

	ids := map[int64]int{}
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			ids[results[i].ID]++
		}
	}
	require.Len(t, ids, 1, "every successful caller must observe the same single entry")

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one entry may ever be posted for one idempotency key")
}

// TestCreateJournalEntry_ConcurrentNumberMinting posts distinct entries
// concurrently and asserts NextNumber's counter-row arbitration produces a
// gap-free, duplicate-free sequence under the fake repo's single commit
// mutex, the in-memory analogue of the real counter row's FOR UPDATE lock.
func TestCreateJournalEntry_ConcurrentNumberMinting(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage())

	const n = 10
	var wg sync.WaitGroup
	numbers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry(fmt.Sprintf("idem-mint-%d", i)))
			require.NoError(t, err)
			numbers[i] = entry.Number
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, num := range numbers {
		require.False(t, seen[num], "duplicate number minted: %s", num)
		seen[num] = true
	}
	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		require.Contains(t, seen, fmt.Sprintf("JE-%04d", i), "sequence must be gap-free")
	}
}
