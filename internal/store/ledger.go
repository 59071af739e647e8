// Package store declares interfaces for persisting run progress.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskRunStatus mirrors the task_runs status column.
type TaskRunStatus string

// Task run statuses persisted in task_runs.status.
const (
	TaskRunning TaskRunStatus = "running"
	TaskSuccess TaskRunStatus = "success"
	TaskError   TaskRunStatus = "error"
)

// Completion carries the final counters for one task.
type Completion struct {
	// FinishedAt is when the session marked the task done.
	FinishedAt time.Time
	// Status is success or error.
	Status TaskRunStatus
	// Captured and Failed count element captures.
	Captured int
	Failed   int
	// ErrorMessage optionally stores the failure reason.
	ErrorMessage *string
}

// LedgerRepository records one row per dispatched task.
type LedgerRepository interface {
	// RecordDispatch inserts the running row for (runID, task).
	RecordDispatch(ctx context.Context, runID uuid.UUID, task int, url, workspace string, at time.Time) error
	// RecordCompletion finalizes the row, inserting it if the dispatch was never recorded.
	RecordCompletion(ctx context.Context, runID uuid.UUID, task int, url string, done Completion) error
}
