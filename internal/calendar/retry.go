package calendar

import (
	"context"
	"time"
)

// RetryPolicy bounds per-call retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int           // total tries including the first
	BaseDelay   time.Duration // delay before the first retry
}

// DefaultRetryPolicy matches the provider's documented guidance: three
// tries with exponential backoff starting at 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 400 * time.Millisecond}
}

// Do runs op, retrying transient failures with exponential backoff
// (BaseDelay doubling per attempt). Non-transient failures return
// immediately. Context cancellation aborts the wait.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
