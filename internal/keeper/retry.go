package keeper

import (
	"context"
	"time"

	"ShadowSwap/internal/ledgererr"
)

// Backoff is an exponential retry policy: Base, doubling up to Max, for at
// most MaxAttempts calls in total.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// sleepFunc waits for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. Waits between attempts end early when wait is cancelled;
// fn itself runs under its own context so a call already sent is not cut
// short by shutdown.
func retry(wait context.Context, b Backoff, sleep sleepFunc, fn func() error, onRetry func(attempt int, err error)) error {
	attempts := max(b.MaxAttempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !ledgererr.IsRetryable(err) || attempt >= attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if sleepErr := sleep(wait, b.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
}
