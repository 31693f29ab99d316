// Package upstream wraps HTTP calls to the collaborative-whiteboard API the
// pipeline pushes changes to. It classifies every response into exactly the
// three outcomes the worker's retry logic understands, and layers a circuit
// breaker and a global rate safety-valve underneath the per-user token
// bucket in package ratelimit.
package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimited indicates the upstream API rejected the call with 429.
// RetryAfter, when present, must be honored verbatim instead of the
// worker's own backoff schedule.
type RateLimited struct {
	RetryAfter *time.Duration
}

func (e *RateLimited) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("upstream: rate limited, retry after %s", *e.RetryAfter)
	}
	return "upstream: rate limited"
}

// Transient indicates a retryable server-side failure (5xx, timeout,
// connection reset).
type Transient struct {
	Status int
	Cause  error
}

func (e *Transient) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream: transient error (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("upstream: transient error (status %d)", e.Status)
}

func (e *Transient) Unwrap() error { return e.Cause }

// Permanent indicates a non-retryable client error (4xx other than 408,
// 409, 425 and 429).
// The task is dead-lettered without consuming further attempts.
type Permanent struct {
	Status int
	Cause  error
}

func (e *Permanent) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream: permanent error (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("upstream: permanent error (status %d)", e.Status)
}

func (e *Permanent) Unwrap() error { return e.Cause }

// Classify maps a completed HTTP response (transportErr nil) or a transport
// failure into one of RateLimited, Transient, or Permanent. A 2xx response
// with a nil transportErr yields a nil error.
func Classify(resp *http.Response, transportErr error) error {
	if transportErr != nil {
		return &Transient{Cause: transportErr}
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		var d *time.Duration
		if ra, ok := ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			d = &ra
		}
		return &RateLimited{RetryAfter: d}
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusTooEarly:
		return &Transient{Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &Transient{Status: resp.StatusCode}
	default:
		return &Permanent{Status: resp.StatusCode}
	}
}

// ParseRetryAfter parses a Retry-After header value, supporting both the
// delta-seconds form ("120") and the HTTP-date form
// ("Fri, 31 Jul 2026 12:00:00 GMT").
func ParseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
