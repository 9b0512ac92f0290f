package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// QueueDefault is the single asynq queue every maintenance task runs on.
const QueueDefault = "default"

// Task type names. These are the asynq routing keys and the job label on
// every metric the runs emit.
const (
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
	TaskCorruptionScan     = "ledger:corruption_scan"
	TaskQuarantineSweep    = "ledger:quarantine_sweep"
)

// KnownJobs lists every task type this worker registers, for metric priming.
func KnownJobs() []string {
	return []string{TaskIdempotencyCleanup, TaskCorruptionScan, TaskQuarantineSweep}
}

// IdempotencyCleanupPayload parameterises one cleanup run.
type IdempotencyCleanupPayload struct {
	BatchSize int           `json:"batch_size"`
	MaxAge    time.Duration `json:"max_age"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(batchSize int, maxAge time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(IdempotencyCleanupPayload{BatchSize: batchSize, MaxAge: maxAge})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, payload), nil
}

// CorruptionScanPayload parameterises one scheduled scan run.
type CorruptionScanPayload struct {
	// QuarantineFindings submits every issue the scan surfaces to the
	// quarantine store, in addition to logging the report.
	QuarantineFindings bool `json:"quarantine_findings"`
}

// NewCorruptionScanTask builds the scheduled corruption-scan task.
func NewCorruptionScanTask(quarantineFindings bool) (*asynq.Task, error) {
	payload, err := json.Marshal(CorruptionScanPayload{QuarantineFindings: quarantineFindings})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCorruptionScan, payload), nil
}

// QuarantineSweepPayload parameterises one quarantine-age sweep.
type QuarantineSweepPayload struct {
	// OlderThan flags unresolved records quarantined longer ago than this
	// for operator attention.
	OlderThan time.Duration `json:"older_than"`
}

// NewQuarantineSweepTask builds the quarantine-age sweep task.
func NewQuarantineSweepTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(QuarantineSweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuarantineSweep, payload), nil
}
