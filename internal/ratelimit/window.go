package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window limiter: at most max requests are let through in any
// trailing period of length span.
type Window struct {
	max  int
	span time.Duration

	mu     sync.Mutex
	stamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Window)

// WithClock replaces the time source and the sleep used by Wait.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// NewWindow returns a limiter. max <= 0 disables limiting.
func NewWindow(max int, span time.Duration, opts ...Option) *Window {
	w := &Window{
		max:   max,
		span:  span,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reserve records a request and returns 0 when the window has room. Otherwise it records
// nothing and returns how long until the oldest stamp leaves the window.
func (w *Window) Reserve() time.Duration {
	if w == nil || w.max <= 0 || w.span <= 0 {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.span)
	kept := w.stamps[:0]
	for _, stamp := range w.stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	w.stamps = kept

	if len(w.stamps) < w.max {
		w.stamps = append(w.stamps, now)
		return 0
	}

	delay := w.stamps[0].Add(w.span).Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return delay
}

// Wait blocks until the window lets one request through.
func (w *Window) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := w.Reserve()
		if delay == 0 {
			return nil
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Run waits for room in the window and then runs fn on the calling goroutine.
func (w *Window) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := w.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// InFlight reports how many requests the trailing window currently holds.
func (w *Window) InFlight() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.now().Add(-w.span)
	count := 0
	for _, stamp := range w.stamps {
		if stamp.After(cutoff) {
			count++
		}
	}
	return count
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
