// Package retry provides the bounded exponential-backoff policy used
// around every network call in the pipeline.
package retry

import (
	"context"
	"time"

	retrylib "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1000 * time.Millisecond
)

// Policy retries an operation with delays of InitialDelay * 2^n, no
// jitter. ShouldRetry decides whether a given failure is worth another
// attempt; a nil predicate retries on any error.
type Policy struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	ShouldRetry  func(error) bool
}

// NewPolicy returns the default policy: up to 3 retries starting at
// one second, retrying on any error.
func NewPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
	}
}

// Do runs op, retrying per the policy. The backoff waits respect ctx,
// so a caller timing out does not sit through the remaining delays.
// The operation's error comes back unchanged once retries are spent or
// the predicate declines.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	b := retrylib.WithMaxRetries(p.MaxRetries, retrylib.NewExponential(p.InitialDelay))

	return retrylib.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return err
		}
		return retrylib.RetryableError(err)
	})
}
