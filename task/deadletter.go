package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is the permanent record of a Task whose attempts were
// exhausted or that failed with a non-retryable upstream error. Rows here
// are never retried automatically; they exist for inspection and manual
// replay tooling outside this package.
type DeadLetter struct {
	ID      int64
	UserID  string
	Kind    Kind
	Payload json.RawMessage

	JobID *uuid.UUID
	Index int

	Attempts  uint32
	Error     string
	CreatedAt time.Time
}

// FromTask builds the dead-letter record for a task that will not be
// retried again, recording the terminal error that caused it.
func FromTask(t *Task, cause string) *DeadLetter {
	return &DeadLetter{
		UserID:   t.UserID,
		Kind:     t.Kind,
		Payload:  t.Payload,
		JobID:    t.JobID,
		Index:    t.Index,
		Attempts: t.Attempts,
		Error:    cause,
	}
}
