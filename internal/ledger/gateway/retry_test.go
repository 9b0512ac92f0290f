package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/ledger/idempotency"
	"github.com/ledgergate/ledgergate/internal/ledger/ledgershared"
)

// TestCreateJournalEntry_BackoffObservesCompletion pins the contract
// for a contended key: the loser first observes the in-progress state, then,
// after the holder completes, its backed-off retry replays the holder's
// outcome instead of failing.
func TestCreateJournalEntry_BackoffObservesCompletion(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	idem := newFakeIdem()
	svc := newTestService(t, repo, idem, newTestBoard(), newTestLinkage()).
		WithRetryPolicy(ledgershared.RetryPolicy{MaxAttempts: 200, Delays: []time.Duration{time.Millisecond}})
	ctx := context.Background()

	// Another caller holds the key.
	tok, err := idem.Begin(ctx, "create_journal_entry", "idem-backoff", nil, time.Hour)
	require.NoError(t, err)

	done := make(chan struct{})
	var got JournalEntry
	var callErr error
	go func() {
		defer close(done)
		got, callErr = svc.CreateJournalEntry(ctx, studentFeeEntry("idem-backoff"))
	}()

	// While the caller is backing off, the holder finishes: its entry
	// lands in the ledger and the record completes.
	time.Sleep(2 * time.Millisecond)
	winner := JournalEntry{ID: 77, Number: "JE-0042", Status: StatusPosted}
	repo.mu.Lock()
	repo.entries[winner.ID] = winner
	repo.mu.Unlock()
	idem.complete(tok.RecordID(), winner.ID, winner.Number)

	<-done
	require.NoError(t, callErr)
	require.Equal(t, winner.ID, got.ID)
	require.Equal(t, winner.Number, got.Number)

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the retrying caller must not post a second entry")
}

// TestCreateJournalEntry_FailedOutcomeReplaysByDefault pins the default
// policy: a recorded failure is surfaced deterministically, never re-run.
func TestCreateJournalEntry_FailedOutcomeReplaysByDefault(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	idem := newFakeIdem()
	svc := newTestService(t, repo, idem, newTestBoard(), newTestLinkage())
	ctx := context.Background()

	tok, err := idem.Begin(ctx, "create_journal_entry", "idem-failed", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, idem.Fail(ctx, tok, "boom"))

	_, err = svc.CreateJournalEntry(ctx, studentFeeEntry("idem-failed"))
	require.ErrorContains(t, err, "prior attempt failed")
	require.ErrorContains(t, err, "boom")

	entries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestCreateJournalEntry_PolicyPermitsRetryOfFailedOutcome flips
// RetryFailedOutcomes on: the failed record is re-armed in place and the
// posting re-executes under the same key.
func TestCreateJournalEntry_PolicyPermitsRetryOfFailedOutcome(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	idem := newFakeIdem()
	svc := newTestService(t, repo, idem, newTestBoard(), newTestLinkage()).
		WithRetryPolicy(ledgershared.RetryPolicy{
			MaxAttempts:         2,
			Delays:              []time.Duration{time.Millisecond},
			RetryFailedOutcomes: true,
		})
	ctx := context.Background()

	tok, err := idem.Begin(ctx, "create_journal_entry", "idem-rearm", nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, idem.Fail(ctx, tok, "transient outage"))

	entry, err := svc.CreateJournalEntry(ctx, studentFeeEntry("idem-rearm"))
	require.NoError(t, err)
	require.Equal(t, StatusPosted, entry.Status)

	outcome, err := idem.Probe(ctx, "create_journal_entry", "idem-rearm")
	require.NoError(t, err)
	require.Equal(t, idempotency.StatusCompleted, outcome.Record.Status)
}

// TestCreateJournalEntry_OpenCircuitFailsFast wires a tripped breaker and
// asserts the gateway refuses without touching the pipeline.
func TestCreateJournalEntry_OpenCircuitFailsFast(t *testing.T) {
	repo := newFakeRepo(openPeriod())
	breaker := ledgershared.NewCircuitBreaker("gateway-test", 1, time.Hour)
	breaker.MarkFailure()

	svc := newTestService(t, repo, newFakeIdem(), newTestBoard(), newTestLinkage()).
		WithRetryPolicy(ledgershared.RetryPolicy{
			MaxAttempts: 2,
			Delays:      []time.Duration{time.Millisecond},
			Breaker:     breaker,
		})

	_, err := svc.CreateJournalEntry(context.Background(), studentFeeEntry("idem-circuit"))
	require.ErrorIs(t, err, ledgershared.ErrCircuitOpen)

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries, "an open circuit must fail before any row is written")
}
