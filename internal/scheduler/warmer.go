package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/upstream"
)

type warmSource interface {
	Home(ctx context.Context, t content.Type) (normalize.Home, error)
	Schedule(ctx context.Context, t content.Type) ([]normalize.ScheduleDay, error)
	Preload(ctx context.Context, op content.Operation, raw string, t content.Type) error
}

type logPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Warmer keeps the listing caches warm and preloads the details of the newest ongoing
// titles, so the first visitor after a quiet period does not wait on the upstream.
type Warmer struct {
	source   warmSource
	pruner   logPruner
	interval time.Duration
	limit    int
	types    []content.Type
	keep     time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

type WarmerConfig struct {
	Interval     time.Duration
	PreloadLimit int
	Types        []content.Type
	// LogRetention is how long fetch log rows are kept. Zero disables pruning.
	LogRetention time.Duration
}

// NewWarmer builds a warmer. pruner may be nil.
func NewWarmer(source warmSource, pruner logPruner, cfg WarmerConfig, logger *slog.Logger) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if len(cfg.Types) == 0 {
		cfg.Types = content.Types
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Warmer{
		source:   source,
		pruner:   pruner,
		interval: cfg.Interval,
		limit:    cfg.PreloadLimit,
		types:    cfg.Types,
		keep:     cfg.LogRetention,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (w *Warmer) Start(ctx context.Context) {
	w.logger.Info("warmer started", "interval", w.interval.String(), "preloadLimit", w.limit)
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Warn("warmer initial run failed", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("warmer stopped")
				close(w.stopCh)
				return
			case <-ticker.C:
				if err := w.RunOnce(ctx); err != nil {
					w.logger.Warn("warmer cycle failed", "error", err)
				}
			}
		}
	}()
}

func (w *Warmer) StopWait(timeout time.Duration) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	select {
	case <-w.stopCh:
	case <-time.After(timeout):
	}
}

// RunOnce warms every content type in turn. A protection response ends the cycle early
// since every further request would hit the same check.
func (w *Warmer) RunOnce(ctx context.Context) error {
	for _, t := range w.types {
		if err := w.warmType(ctx, t); err != nil {
			return err
		}
	}
	w.prune(ctx)
	return nil
}

func (w *Warmer) warmType(ctx context.Context, t content.Type) error {
	home, err := w.source.Home(ctx, t)
	if err != nil {
		if stop := w.fail("home", t, err); stop != nil {
			return stop
		}
	}

	if _, err := w.source.Schedule(ctx, t); err != nil {
		if stop := w.fail("schedule", t, err); stop != nil {
			return stop
		}
	}

	preloaded := 0
	for _, card := range home.Ongoing {
		if preloaded >= w.limit {
			break
		}
		if err := w.source.Preload(ctx, content.OpDetail, card.Ref.Slug, t); err != nil {
			if stop := w.fail("preload", t, err); stop != nil {
				return stop
			}
			continue
		}
		preloaded++
	}

	w.logger.Debug("warmed content type", "contentType", string(t), "preloaded", preloaded)
	return nil
}

// fail logs a step failure and returns non-nil when the cycle must stop.
func (w *Warmer) fail(step string, t content.Type, err error) error {
	if errors.Is(err, upstream.ErrProtectionTriggered) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("warm %s %s: %w", t, step, err)
	}
	w.logger.Warn("warm step failed", "step", step, "contentType", string(t), "error", err)
	return nil
}

func (w *Warmer) prune(ctx context.Context) {
	if w.pruner == nil || w.keep <= 0 {
		return
	}
	removed, err := w.pruner.PruneBefore(ctx, time.Now().UTC().Add(-w.keep))
	if err != nil {
		w.logger.Warn("prune fetch log failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("pruned fetch log", "removed", removed)
	}
}
