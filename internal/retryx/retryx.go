// Package retryx wraps cenkalti/backoff with the engine's retry policy:
// exponential backoff with jitter, a small bounded attempt count, and retries
// only for transient failure classes (timeouts, rate limits, 5xx-equivalent).
// Validation and authorization errors are never retried.
package retryx

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retry behavior for one class of external call.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is the baseline for retriever, model and tool wrappers.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs fn under the policy. Non-transient errors abort immediately; the
// last error is returned once attempts are exhausted or the context ends.
func Do(ctx context.Context, p Policy, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	// MaxRetries counts retries after the first attempt.
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}

// Transient classifies errors worth retrying. Deadline exhaustion of the
// whole turn is not transient; per-call timeouts and throttling are.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "too many requests", "503", "502", "500", "overloaded", "temporarily", "timeout", "connection refused", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
