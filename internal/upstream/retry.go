package upstream

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy re-runs a whole pass over the candidates after a failed pass.
type RetryPolicy struct {
	ExtraPasses int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Logger *slog.Logger
	// Sleep defaults to a context-aware timer. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{ExtraPasses: 2, BaseDelay: 2 * time.Second, MaxDelay: 8 * time.Second}
}

// Delay returns the wait before extra pass n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do calls fn once, then up to ExtraPasses more times while the error is retryable.
// fn receives the zero-based pass number.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, pass int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	err := fn(ctx, 0)
	for pass := 1; pass <= p.ExtraPasses && Retryable(err); pass++ {
		delay := p.Delay(pass)
		logger.Debug("retrying upstream pass", "pass", pass, "delay", delay.String(), "error", err)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		err = fn(ctx, pass)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
