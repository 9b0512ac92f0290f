package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/repair"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeCleaner struct {
	batchSize int
	maxAge    time.Duration
	purged    int64
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error) {
	f.batchSize = batchSize
	f.maxAge = maxAge
	return f.purged, f.err
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &fakeCleaner{purged: 12}
	job := NewIdempotencyCleanupJob(cleaner, testLogger(), nil)

	task, err := NewIdempotencyCleanupTask(250, 48*time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 250, cleaner.batchSize)
	require.Equal(t, 48*time.Hour, cleaner.maxAge)
}

func TestIdempotencyCleanupJobDefaultsMaxAge(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, testLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0, 0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7*24*time.Hour, cleaner.maxAge)
}

func TestIdempotencyCleanupJobPropagatesErrors(t *testing.T) {
	cause := errors.New("db down")
	job := NewIdempotencyCleanupJob(&fakeCleaner{err: cause}, testLogger(), nil)

	task, err := NewIdempotencyCleanupTask(10, time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), cause)
}

type fakeScanner struct {
	report repair.CorruptionReport
	err    error
}

func (f *fakeScanner) RunAll(ctx context.Context) (repair.CorruptionReport, error) {
	return f.report, f.err
}

type fakeSubmitter struct {
	submitted []quarantine.Record
}

func (f *fakeSubmitter) Submit(ctx context.Context, r quarantine.Record) (quarantine.Record, error) {
	f.submitted = append(f.submitted, r)
	return r, nil
}

func TestCorruptionScanJobQuarantinesFindingsWhenAsked(t *testing.T) {
	scanner := &fakeScanner{report: repair.CorruptionReport{Results: []repair.ScanResult{
		{CorruptionType: repair.CorruptionNegativeStock, Issues: []repair.Issue{
			{CorruptionType: repair.CorruptionNegativeStock, ObjectID: "9", Confidence: 1.0},
		}},
	}}}
	submitter := &fakeSubmitter{}
	job := NewCorruptionScanJob(scanner, repair.NewRepairPolicyFramework(), submitter, testLogger(), nil)

	task, err := NewCorruptionScanTask(true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, submitter.submitted, 1)
	require.Equal(t, "9", submitter.submitted[0].ObjectID)
	require.Equal(t, string(repair.CorruptionNegativeStock), submitter.submitted[0].CorruptionType)
}

func TestCorruptionScanJobReportOnlyByDefault(t *testing.T) {
	scanner := &fakeScanner{report: repair.CorruptionReport{Results: []repair.ScanResult{
		{CorruptionType: repair.CorruptionNegativeStock, Issues: []repair.Issue{
			{CorruptionType: repair.CorruptionNegativeStock, ObjectID: "9", Confidence: 1.0},
		}},
	}}}
	submitter := &fakeSubmitter{}
	job := NewCorruptionScanJob(scanner, repair.NewRepairPolicyFramework(), submitter, testLogger(), nil)

	task, err := NewCorruptionScanTask(false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, submitter.submitted)
}

type fakeQuerier struct {
	filter quarantine.Filter
	stale  []quarantine.Record
}

func (f *fakeQuerier) Query(ctx context.Context, filter quarantine.Filter) ([]quarantine.Record, error) {
	f.filter = filter
	return f.stale, nil
}

func TestQuarantineSweepJobQueriesUnresolvedOnly(t *testing.T) {
	querier := &fakeQuerier{stale: []quarantine.Record{{ID: 1, ModelName: "journal_entry", ObjectID: "4"}}}
	job := NewQuarantineSweepJob(querier, testLogger(), nil)

	task, err := NewQuarantineSweepTask(14 * 24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, querier.filter.UnresolvedOnly)
	require.False(t, querier.filter.OlderThan.IsZero())
}

func TestHandlersRejectMalformedPayloads(t *testing.T) {
	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("{not json"))

	require.Error(t, NewIdempotencyCleanupJob(&fakeCleaner{}, testLogger(), nil).Handle(context.Background(), bad))
	require.Error(t, NewCorruptionScanJob(&fakeScanner{}, repair.NewRepairPolicyFramework(), nil, testLogger(), nil).Handle(context.Background(), bad))
	require.Error(t, NewQuarantineSweepJob(&fakeQuerier{}, testLogger(), nil).Handle(context.Background(), bad))
}
