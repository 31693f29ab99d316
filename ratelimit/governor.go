// Package ratelimit implements the per-user token-bucket governor that
// paces outbound calls to the upstream API, ported from the _TokenBucket
// design in the original Python change queue.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config is the reservoir/refill shape of a single user's bucket.
type Config struct {
	// Reservoir is the maximum number of tokens a bucket can hold.
	Reservoir int
	// RefillInterval is the duration it takes to refill one token.
	RefillInterval time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	cfg        Config
}

func newBucket(cfg Config) *bucket {
	return &bucket{
		tokens:     cfg.Reservoir,
		lastRefill: time.Now(),
		cfg:        cfg,
	}
}

// refill tops the bucket up based on elapsed time, floor(elapsed/interval)
// tokens at a time, capped at the reservoir size. Must be called with mu held.
func (b *bucket) refill(now time.Time) {
	if b.cfg.RefillInterval <= 0 {
		b.tokens = b.cfg.Reservoir
		return
	}
	elapsed := now.Sub(b.lastRefill)
	gained := int(elapsed / b.cfg.RefillInterval)
	if gained <= 0 {
		return
	}
	b.tokens += gained
	if b.tokens > b.cfg.Reservoir {
		b.tokens = b.cfg.Reservoir
	}
	// Only advance lastRefill by the whole intervals consumed, so
	// partial progress toward the next token is preserved.
	b.lastRefill = b.lastRefill.Add(time.Duration(gained) * b.cfg.RefillInterval)
}

func (b *bucket) waitFor(now time.Time) time.Duration {
	if b.cfg.RefillInterval <= 0 {
		return 0
	}
	next := b.lastRefill.Add(b.cfg.RefillInterval)
	if next.Before(now) {
		return 0
	}
	return next.Sub(now)
}

// tryAcquire attempts a non-blocking consume, returning the wait duration
// until a token will next be available when it fails.
func (b *bucket) tryAcquire() (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.refill(now)
	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	return false, b.waitFor(now)
}

func (b *bucket) fill() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	return b.tokens
}

// Governor paces outbound calls on a per-user basis. Each user gets an
// independent bucket, lazily allocated on first use.
type Governor struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewGovernor(cfg Config) *Governor {
	return &Governor{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

func (g *Governor) bucketFor(userID string) *bucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[userID]
	if !ok {
		b = newBucket(g.cfg)
		g.buckets[userID] = b
	}
	return b
}

// Acquire blocks until a token is available for userID or ctx is canceled.
func (g *Governor) Acquire(ctx context.Context, userID string) error {
	b := g.bucketFor(userID)
	for {
		if ok, wait := b.tryAcquire(); ok {
			return nil
		} else {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Fill returns a snapshot of every known user's current token count, used
// to serve GET /api/limits.
func (g *Governor) Fill() map[string]int {
	g.mu.Lock()
	buckets := make(map[string]*bucket, len(g.buckets))
	for k, v := range g.buckets {
		buckets[k] = v
	}
	g.mu.Unlock()

	ret := make(map[string]int, len(buckets))
	for userID, b := range buckets {
		ret[userID] = b.fill()
	}
	return ret
}

// FillFor returns the current token count for a single user, allocating
// their bucket at full reservoir if they have never been seen.
func (g *Governor) FillFor(userID string) int {
	return g.bucketFor(userID).fill()
}
