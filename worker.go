package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fenrick/MiroDiagramming/cache"
	"github.com/fenrick/MiroDiagramming/internal"
	"github.com/fenrick/MiroDiagramming/jobs"
	"github.com/fenrick/MiroDiagramming/task"
	"github.com/fenrick/MiroDiagramming/upstream"
)

// TokenResolver resolves a currently-valid access token for a user.
// *tokenauth.Manager satisfies this.
type TokenResolver interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// RateLimiter paces outbound calls per user. *ratelimit.Governor satisfies
// this.
type RateLimiter interface {
	Acquire(ctx context.Context, userID string) error
}

// WorkerConfig controls the runtime behavior of a Worker.
type WorkerConfig struct {
	// Concurrency is the number of concurrent task handlers.
	Concurrency int
	// QueueSize bounds the buffer between claiming tasks and dispatching
	// them to handlers.
	QueueSize int
	// BatchSize bounds how many tasks a single ClaimNext fetches.
	BatchSize int
	// PollInterval is the upper bound on how long the claim loop waits
	// between polls when it receives no wakeup kick.
	PollInterval time.Duration
	// Lease is the visibility timeout assigned to each claimed task.
	Lease time.Duration
	// OrphanInterval is how often RecoverOrphans runs.
	OrphanInterval time.Duration
	Backoff        BackoffConfig
}

// Worker is the durable queue consumer: it claims tasks, resolves a valid
// access token, acquires a per-user rate-limit slot, invokes the matching
// upstream operation, classifies the outcome, and acks it — extending the
// task's lease while the handler runs and dead-lettering or rescheduling on
// failure per BackoffConfig.
type Worker struct {
	lcBase
	queue     Queue
	client    upstream.Client
	tokens    TokenResolver
	governor  RateLimiter
	jobStore  jobs.Store
	refresher *cache.Refresher
	log       *slog.Logger

	pool      *internal.WorkerPool[*task.Task]
	claimLoop *internal.WakeableTicker
	orphan    internal.TimerTask

	batchSize      int
	pollInterval   time.Duration
	lease          time.Duration
	halfLease      time.Duration
	orphanInterval time.Duration
	backoff        backoffCounter
}

// NewWorker wires a Worker. client, tokens, and governor are required;
// jobStore and refresher may be nil, in which case job aggregation and
// debounced cache refresh are simply skipped.
func NewWorker(
	queue Queue,
	client upstream.Client,
	tokens TokenResolver,
	governor RateLimiter,
	jobStore jobs.Store,
	refresher *cache.Refresher,
	cfg WorkerConfig,
	log *slog.Logger,
) *Worker {
	return &Worker{
		queue:          queue,
		client:         client,
		tokens:         tokens,
		governor:       governor,
		jobStore:       jobStore,
		refresher:      refresher,
		log:            log,
		pool:           internal.NewWorkerPool[*task.Task](cfg.Concurrency, cfg.QueueSize, log),
		claimLoop:      internal.NewWakeableTicker(),
		batchSize:      cfg.BatchSize,
		pollInterval:   cfg.PollInterval,
		lease:          cfg.Lease,
		halfLease:      cfg.Lease / 2,
		orphanInterval: cfg.OrphanInterval,
		backoff:        backoffCounter{cfg.Backoff},
	}
}

// Enqueue persists t and wakes the claim loop so it is picked up promptly
// rather than waiting out the rest of the poll interval.
func (w *Worker) Enqueue(ctx context.Context, t *task.Task) (int64, error) {
	id, err := w.queue.Enqueue(ctx, t)
	if err != nil {
		return 0, err
	}
	w.claimLoop.Kick()
	return id, nil
}

func (w *Worker) claim(ctx context.Context) {
	tasks, err := w.queue.ClaimNext(ctx, w.batchSize, w.lease)
	if err != nil {
		w.log.Error("claim failed", "err", err)
		return
	}
	for _, t := range tasks {
		if !w.pool.Push(t) {
			w.log.Debug("task push interrupted by shutdown", "id", t.ID)
			return
		}
	}
}

func (w *Worker) recoverOrphans(ctx context.Context) {
	count, err := w.queue.RecoverOrphans(ctx, w.lease)
	if err != nil {
		w.log.Error("orphan recovery failed", "err", err)
		return
	}
	if count > 0 {
		w.log.Info("recovered orphaned tasks", "count", count)
		w.claimLoop.Kick()
	}
}

type handleResult chan error

func runHandler(ctx context.Context, fn func(context.Context) error) handleResult {
	ret := make(handleResult, 1)
	go func() {
		ret <- fn(ctx)
	}()
	return ret
}

func (w *Worker) invoke(ctx context.Context, token string, t *task.Task) error {
	switch t.Kind {
	case task.CreateNode:
		var p task.CreateNodePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return &upstream.Permanent{Cause: err}
		}
		return w.client.CreateNode(ctx, token, p)
	case task.UpdateCard:
		var p task.UpdateCardPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return &upstream.Permanent{Cause: err}
		}
		return w.client.UpdateCard(ctx, token, p)
	case task.CreateShape:
		var p task.CreateShapePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return &upstream.Permanent{Cause: err}
		}
		return w.client.CreateShape(ctx, token, p)
	case task.UpdateShape:
		var p task.UpdateShapePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return &upstream.Permanent{Cause: err}
		}
		return w.client.UpdateShape(ctx, token, p)
	case task.DeleteShape:
		var p task.DeleteShapePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return &upstream.Permanent{Cause: err}
		}
		return w.client.DeleteShape(ctx, token, p)
	default:
		return &upstream.Permanent{Cause: fmt.Errorf("unknown task kind %q", t.Kind)}
	}
}

// handleOrExtend runs the 3-step body of a handled task (resolve token,
// acquire rate slot, invoke) on a goroutine so the lease can be extended
// on a timer while it is in flight, mirroring the teacher's
// handleOrExtend but now also covering token resolution and pacing.
func (w *Worker) handleOrExtend(ctx context.Context, t *task.Task) error {
	wrapped, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := runHandler(wrapped, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("task handler panicked", "id", t.ID, "kind", t.Kind, "user_id", t.UserID, "panic", r)
				err = &upstream.Permanent{Cause: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		token, err := w.tokens.GetValidAccessToken(ctx, t.UserID)
		if err != nil {
			return err
		}
		if err := w.governor.Acquire(ctx, t.UserID); err != nil {
			return err
		}
		return w.invoke(ctx, token, t)
	})
	timer := time.NewTimer(w.halfLease)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if err := w.queue.ExtendLease(ctx, t, w.lease); err != nil {
				cancel()
				return err
			}
			timer.Reset(w.halfLease)
		case err := <-errCh:
			return err
		}
	}
}

func (w *Worker) handle(ctx context.Context, t *task.Task) {
	err := w.handleOrExtend(ctx, t)
	if err == nil {
		w.succeed(ctx, t)
		return
	}
	if errors.Is(err, ErrLockLost) {
		w.log.Warn("task lease lost", "id", t.ID, "err", err)
		return
	}
	w.fail(ctx, t, err)
}

func (w *Worker) succeed(ctx context.Context, t *task.Task) {
	if err := w.queue.Ack(ctx, t, Completed, 0, ""); err != nil {
		w.log.Error("ack complete failed", "id", t.ID, "err", err)
	}
	w.recordJob(ctx, t, true, "")
	if w.refresher == nil {
		return
	}
	if boardID := t.BoardID(); boardID != "" {
		userID := t.UserID
		w.refresher.Schedule(boardID, func(fctx context.Context) (cache.Entry, error) {
			token, err := w.tokens.GetValidAccessToken(fctx, userID)
			if err != nil {
				return cache.Entry{}, err
			}
			raw, err := w.client.GetBoard(fctx, token, boardID)
			if err != nil {
				return cache.Entry{}, err
			}
			return cache.Entry{Value: raw}, nil
		})
	}
}

func (w *Worker) fail(ctx context.Context, t *task.Task, err error) {
	var perm *upstream.Permanent
	if errors.As(err, &perm) {
		w.deadLetter(ctx, t, err)
		return
	}
	var retryAfter *time.Duration
	var rl *upstream.RateLimited
	if errors.As(err, &rl) {
		retryAfter = rl.RetryAfter
	}
	delay, ok := w.backoff.next(t.Attempts, retryAfter)
	if !ok {
		w.deadLetter(ctx, t, err)
		return
	}
	if ackErr := w.queue.Ack(ctx, t, Retry, delay, err.Error()); ackErr != nil {
		w.log.Error("ack retry failed", "id", t.ID, "err", ackErr)
	}
}

func (w *Worker) deadLetter(ctx context.Context, t *task.Task, cause error) {
	if err := w.queue.Ack(ctx, t, DeadLettered, 0, cause.Error()); err != nil {
		w.log.Error("ack dead-letter failed", "id", t.ID, "err", err)
	}
	w.recordJob(ctx, t, false, cause.Error())
}

func (w *Worker) recordJob(ctx context.Context, t *task.Task, ok bool, errMsg string) {
	if t.JobID == nil || w.jobStore == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	result := jobs.OperationResult{Index: t.Index, Status: status, Error: errMsg}
	if err := w.jobStore.RecordOperation(ctx, *t.JobID, result); err != nil {
		w.log.Error("job record failed", "job_id", *t.JobID, "err", err)
	}
}

// Start begins background claiming, orphan recovery, and processing of
// tasks. It returns ErrDoubleStarted if the worker has already been
// started. Cancelling ctx stops claiming; in-flight handlers receive a
// canceled context.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.TryStart(); err != nil {
		return err
	}
	w.pool.Start(ctx, w.handle)
	w.claimLoop.Start(ctx, w.claim, w.pollInterval)
	w.orphan.Start(ctx, w.recoverOrphans, w.orphanInterval)
	return nil
}

func (w *Worker) doStop() internal.DoneChan {
	first := w.claimLoop.Stop()
	second := w.orphan.Stop()
	third := w.pool.Stop()
	return internal.Combine(internal.Combine(first, second), third)
}

// Stop initiates graceful shutdown: claiming and orphan recovery stop
// immediately, then Stop waits for in-flight handlers to finish up to
// timeout. ErrStopTimeout is returned if they do not; ErrDoubleStopped if
// the worker is not running.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.TryStop(timeout, w.doStop)
}
