package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgergate/ledgergate/internal/ledger/quarantine"
	"github.com/ledgergate/ledgergate/internal/ledger/repair"
)

// IdempotencyCleaner is the slice of idempotency.Store the cleanup job drives.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, now time.Time, batchSize int, maxAge time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges expired idempotency records in batches.
type IdempotencyCleanupJob struct {
	store   IdempotencyCleaner
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewIdempotencyCleanupJob wires the cleanup job. metrics may be nil.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Handle is the asynq handler for TaskIdempotencyCleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return tracker.End(err)
	}
	if payload.MaxAge <= 0 {
		payload.MaxAge = 7 * 24 * time.Hour
	}
	purged, err := j.store.Cleanup(ctx, j.now(), payload.BatchSize, payload.MaxAge)
	if err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddItems(TaskIdempotencyCleanup, "purged", int(purged))
	j.logger.Info("idempotency cleanup complete", slog.Int64("purged", purged))
	return tracker.End(nil)
}

// CorruptionScanner is the slice of repair.Scanner the scheduled scan drives.
type CorruptionScanner interface {
	RunAll(ctx context.Context) (repair.CorruptionReport, error)
}

// QuarantineSubmitter is the slice of quarantine.Store the scan job submits
// findings through when the payload asks for it.
type QuarantineSubmitter interface {
	Submit(ctx context.Context, r quarantine.Record) (quarantine.Record, error)
}

// CorruptionScanJob runs the full scanner suite on a schedule and logs the
// resulting report. It plans, it never repairs.
type CorruptionScanJob struct {
	scanner    CorruptionScanner
	policy     *repair.RepairPolicyFramework
	quarantine QuarantineSubmitter
	logger     *slog.Logger
	metrics    *Metrics
}

// NewCorruptionScanJob wires the scan job. quarantineStore may be nil when
// scheduled scans only report.
func NewCorruptionScanJob(scanner CorruptionScanner, policy *repair.RepairPolicyFramework, quarantineStore QuarantineSubmitter, logger *slog.Logger, metrics *Metrics) *CorruptionScanJob {
	return &CorruptionScanJob{scanner: scanner, policy: policy, quarantine: quarantineStore, logger: logger, metrics: metrics}
}

// Handle is the asynq handler for TaskCorruptionScan.
func (j *CorruptionScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskCorruptionScan)
	var payload CorruptionScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return tracker.End(err)
	}
	report, err := j.scanner.RunAll(ctx)
	if err != nil {
		j.logger.Error("corruption scan", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddItems(TaskCorruptionScan, "issues", report.TotalIssues())
	repairReport := j.policy.CreateRepairReport(report)
	for _, plan := range repairReport.Plans {
		j.logger.Warn("corruption detected",
			slog.String("type", string(plan.Issue.CorruptionType)),
			slog.String("object_id", plan.Issue.ObjectID),
			slog.String("recommended_action", string(plan.RecommendedAction)),
			slog.String("risk", string(plan.RiskLevel)))
		if payload.QuarantineFindings && j.quarantine != nil {
			if _, err := j.quarantine.Submit(ctx, quarantine.Record{
				ModelName:      "corruption_scan",
				ObjectID:       plan.Issue.ObjectID,
				CorruptionType: string(plan.Issue.CorruptionType),
				Confidence:     plan.Issue.Confidence,
				Reason:         "scheduled scan finding",
				Evidence:       plan.Issue.Evidence,
			}); err != nil {
				j.logger.Error("quarantine scan finding", slog.Any("error", err))
			}
		}
	}
	j.logger.Info("corruption scan complete", slog.Int("issues", report.TotalIssues()))
	return tracker.End(nil)
}

// QuarantineQuerier is the slice of quarantine.Store the sweep reads.
type QuarantineQuerier interface {
	Query(ctx context.Context, f quarantine.Filter) ([]quarantine.Record, error)
}

// QuarantineSweepJob surfaces unresolved quarantine records older than the
// configured age so operators see what review is overdue. The sweep never
// releases or discards anything itself.
type QuarantineSweepJob struct {
	store   QuarantineQuerier
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewQuarantineSweepJob wires the sweep job.
func NewQuarantineSweepJob(store QuarantineQuerier, logger *slog.Logger, metrics *Metrics) *QuarantineSweepJob {
	return &QuarantineSweepJob{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Handle is the asynq handler for TaskQuarantineSweep.
func (j *QuarantineSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track(TaskQuarantineSweep)
	var payload QuarantineSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return tracker.End(err)
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 30 * 24 * time.Hour
	}
	stale, err := j.store.Query(ctx, quarantine.Filter{
		OlderThan:      j.now().Add(-payload.OlderThan),
		UnresolvedOnly: true,
	})
	if err != nil {
		j.logger.Error("quarantine sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddItems(TaskQuarantineSweep, "stale", len(stale))
	for _, rec := range stale {
		j.logger.Warn("quarantine record awaiting review",
			slog.Int64("id", rec.ID),
			slog.String("model", rec.ModelName),
			slog.String("object_id", rec.ObjectID),
			slog.String("corruption_type", rec.CorruptionType),
			slog.Time("quarantined_at", rec.QuarantinedAt))
	}
	j.logger.Info("quarantine sweep complete", slog.Int("stale", len(stale)))
	return tracker.End(nil)
}
