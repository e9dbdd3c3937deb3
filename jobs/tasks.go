// Package jobs hosts the background workers: the sequence integrity audit,
// the overdue invoice scan and idempotency key retention.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSequenceAudit scans sequence counters for duplicate or
	// out-of-range document numbers.
	TaskSequenceAudit = "billing:sequence-audit"

	// TaskOverdueScan summarizes validated unpaid invoices past a cutoff.
	TaskOverdueScan = "billing:overdue-scan"

	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "billing:idempotency-cleanup"
)

// SequenceAuditPayload scopes the audit to one company, or all when zero.
type SequenceAuditPayload struct {
	CompanyID int64 `json:"company_id,omitempty"`
}

// NewSequenceAuditTask constructs the audit task.
func NewSequenceAuditTask(payload SequenceAuditPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSequenceAudit, data), nil
}

// OverdueScanPayload configures the age threshold in days.
type OverdueScanPayload struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
}

// NewOverdueScanTask constructs the overdue scan task.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data), nil
}

// IdempotencyCleanupPayload configures the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
