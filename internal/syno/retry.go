package syno

import (
	"context"
	"time"
)

// RetryPolicy bounds how a request is reattempted. Only transport
// failures are retried; an API error or a malformed payload surfaces
// immediately because resending the same request cannot fix it.
type RetryPolicy struct {
	// Attempts is the total number of tries, first included.
	Attempts int
	// Wait is the fixed pause between consecutive tries.
	Wait time.Duration
	// Timeout bounds each individual try.
	Timeout time.Duration
}

// DefaultRetryPolicy mirrors the request discipline DSM tolerates well:
// three tries, two seconds apart, ten seconds each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Wait: 2 * time.Second, Timeout: 10 * time.Second}
}

// do runs fn up to p.Attempts times. Each try gets its own deadline
// when p.Timeout is set. The pause between tries is cut short by ctx
// cancellation.
func (p RetryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Wait > 0 {
			timer := time.NewTimer(p.Wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err = fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}
