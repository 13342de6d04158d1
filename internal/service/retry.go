package service

import (
	"context"
	"errors"
	"time"

	"github.com/carryconnect/carryconnect/internal/repository"
)

// RetryPolicy retries operations that fail with repository.ErrTransient
// using exponential backoff.  Any other error ends the loop at once.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration

	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy is 4 attempts starting at 100ms, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Base: 100 * time.Millisecond, Max: 2 * time.Second}
}

// Backoff returns the delay before attempt n+1, n counting from 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// attempts are exhausted.  fn receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for n := 1; n <= attempts; n++ {
		err = fn(n)
		if err == nil || !errors.Is(err, repository.ErrTransient) {
			return err
		}
		if n == attempts {
			break
		}
		if serr := sleep(ctx, p.Backoff(n)); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
