package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fenrick/MiroDiagramming/task"
)

var (
	// ErrTaskLost indicates the referenced task no longer exists in
	// storage, or cannot be found in its expected state — typically
	// because another actor concurrently transitioned or removed it.
	ErrTaskLost = errors.New("pipeline: task lost")

	// ErrLockLost indicates the caller no longer owns the task's
	// visibility lease. This happens when the lease expires and the task
	// is claimed by another worker before the current one acks it.
	ErrLockLost = errors.New("pipeline: lock lost")
)

// Outcome is the three-way branch Ack applies to a claimed task.
type Outcome uint8

const (
	// Completed deletes the task row; it succeeded and is never revisited.
	Completed Outcome = iota
	// Retry resets the task to Queued with a computed backoff delay.
	Retry
	// DeadLettered moves the task to dead_letter_tasks and deletes the
	// original row, in the same transaction.
	DeadLettered
)

// Queue is the durable, storage-agnostic contract for the Change Pipeline's
// task queue: enqueue, atomically claim a batch, ack a claimed task's
// outcome, and recover orphaned leases.
type Queue interface {
	// Enqueue persists a new task in the Queued state and returns its
	// assigned ID.
	Enqueue(ctx context.Context, t *task.Task) (int64, error)

	// ClaimNext atomically transitions up to batch eligible Queued tasks
	// to Processing, stamping ClaimedAt and incrementing Attempts.
	// Eligible tasks are ordered so older tasks are claimed first.
	ClaimNext(ctx context.Context, batch int, lease time.Duration) ([]*task.Task, error)

	// ExtendLease extends the visibility lease of a Processing task owned
	// by the caller. ErrLockLost is returned if the task is no longer
	// Processing (lease already reclaimed by another worker).
	ExtendLease(ctx context.Context, t *task.Task, lease time.Duration) error

	// Ack finalizes the outcome of a claimed task.
	//
	// Completed: deletes the row.
	// Retry: resets to Queued and sets the next eligible run time to
	// now+delay. It does not change Attempts; ClaimNext already counted
	// this attempt when it claimed the task.
	// DeadLettered: inserts a dead_letter_tasks row carrying cause and
	// deletes the original, atomically.
	//
	// Ack returns ErrTaskLost if the task is no longer Processing.
	Ack(ctx context.Context, t *task.Task, outcome Outcome, delay time.Duration, cause string) error

	// RecoverOrphans resets Processing tasks whose lease has expired back
	// to Queued, without incrementing Attempts again (the increment already
	// happened at claim time). It returns the number of tasks recovered.
	// threshold is the lease length the caller claims with; sql.TaskStore
	// ignores it and uses the lease deadline stamped by ClaimNext and
	// ExtendLease.
	RecoverOrphans(ctx context.Context, threshold time.Duration) (int64, error)
}
