// Package jobs tracks the aggregate outcome of a batch submission: the Job
// a POST /api/batch call creates, and the per-operation results recorded as
// its constituent tasks reach a terminal state.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the aggregate state of a Job.
type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// OperationResult records the terminal outcome of one task within a Job,
// indexed by its position in the submitted batch.
type OperationResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"` // "succeeded" or "failed"
	Error  string `json:"error,omitempty"`
}

// Results is the running tally of a Job's constituent operations.
type Results struct {
	Total      int               `json:"total"`
	Operations []OperationResult `json:"operations"`
}

// Job is the aggregate record a client polls via GET /api/jobs/{id}.
type Job struct {
	ID        uuid.UUID
	Status    Status
	Results   Results
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract for Job aggregation.
type Store interface {
	// Create inserts a new Job with the given operation count, status
	// Queued, and empty Results.
	Create(ctx context.Context, total int) (*Job, error)

	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// RecordOperation appends result to the Job's Results atomically and
	// updates Status per the aggregation rules:
	//   - the first recorded operation flips Queued -> Running
	//   - once len(Operations) == Total, Status becomes Succeeded unless
	//     any operation failed, in which case it is Failed
	//   - a Job already Failed stays Failed even as further successes
	//     are appended (sticky failure)
	RecordOperation(ctx context.Context, id uuid.UUID, result OperationResult) error
}
