// Package pipeline implements the Change Pipeline: a durable, rate-limited
// delivery path between a browser client and an upstream collaborative
// whiteboard API.
//
// # Overview
//
// pipeline models a durable queue of change operations (task.Task) with
// explicit state transitions, separate from the rate-limit governor,
// idempotency/job tracking, and OAuth token lifecycle that sit around it.
// None of these concerns are coupled to a specific storage engine; package
// sql provides the bun-backed implementation used in production and tests.
//
// # Delivery Semantics
//
// The queue provides at-least-once processing guarantees. A task may be
// delivered more than once if a worker crashes before acking it or its
// lease expires while a handler is still running. Upstream operations
// dispatched through upstream.Client are expected to be safe to retry.
//
// # State Machine
//
// Tasks follow this lifecycle:
//
//	queued     -> processing
//	processing -> (deleted, on success)
//	processing -> queued      (retry, attempts < max)
//	processing -> (moved to dead_letter_tasks, attempts exhausted or permanent error)
//
// Unlike a generic job queue, completed tasks are not retained: only
// dead-lettered tasks persist for inspection, and jobs.Job aggregates the
// outcome of every task submitted in a batch.
//
// # Worker
//
// Worker coordinates claiming tasks, resolving a valid access token,
// acquiring a per-user rate-limit slot, invoking the upstream operation,
// classifying the result, and acking the task. It extends the visibility
// lease while a handler runs and applies capped-exponential backoff (with
// Retry-After override) on retryable failures.
//
// # Concurrency Model
//
// Worker decouples claiming from handling via a bounded worker pool.
// Shutdown is graceful: Stop cancels pulling, lets in-flight handlers
// finish up to a timeout, and returns ErrStopTimeout if they do not.
package pipeline
