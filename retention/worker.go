// Package retention runs periodic sweeps over storage that the queue's own
// state machine never revisits: expired dead-letter tasks, expired
// idempotency entries, and expired cache entries. It generalizes the
// teacher's single-purpose Cleaner/CleanWorker pair into one worker type
// reusable across every "delete rows older than a cutoff" concern in this
// repository.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/fenrick/MiroDiagramming/internal"
)

// ErrDoubleStarted, ErrDoubleStopped, and ErrStopTimeout are the sentinel
// errors Worker.Start/Stop return — the same values pipeline.Worker
// returns, since both embed internal.LifecycleBase.
var (
	ErrDoubleStarted = internal.ErrDoubleStarted
	ErrDoubleStopped = internal.ErrDoubleStopped
	ErrStopTimeout   = internal.ErrStopTimeout
)

// Sweeper deletes rows older than olderThan and reports how many were
// removed. sql.DeadLetterStore.Purge, idempotency.Store.Purge, and
// cache.Store.Purge all satisfy this shape.
type Sweeper func(ctx context.Context, olderThan time.Time) (int64, error)

// Worker periodically invokes a Sweeper with a rolling cutoff of now - TTL.
type Worker struct {
	internal.LifecycleBase
	name     string
	sweep    Sweeper
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
	task     internal.TimerTask
}

// New creates a Worker that calls sweep every interval, purging rows older
// than ttl. name is used only for logging, to distinguish multiple workers
// of this type running concurrently (dead letters, idempotency, cache).
func New(name string, sweep Sweeper, ttl, interval time.Duration, log *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		sweep:    sweep,
		ttl:      ttl,
		interval: interval,
		log:      log,
	}
}

func (w *Worker) run(ctx context.Context) {
	cutoff := time.Now().Add(-w.ttl)
	count, err := w.sweep(ctx, cutoff)
	if err != nil {
		w.log.Error("retention sweep failed", "sweeper", w.name, "err", err)
		return
	}
	if count > 0 {
		w.log.Info("retention sweep removed rows", "sweeper", w.name, "count", count)
	}
}

// Start begins periodic sweeping. It returns ErrDoubleStarted if already
// running.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.TryStart(); err != nil {
		return err
	}
	w.task.Start(ctx, w.run, w.interval)
	return nil
}

// Stop halts sweeping, waiting up to timeout for the in-flight sweep (if
// any) to finish.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.TryStop(timeout, w.task.Stop)
}
