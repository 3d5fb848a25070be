package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/renzoku/gateway/internal/cache"
	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/models"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/ratelimit"
	"github.com/renzoku/gateway/internal/upstream"
)

// Recorder stores the terminal outcome of every fetch.
type Recorder interface {
	Record(ctx context.Context, entry models.FetchLogEntry) error
}

type Options struct {
	Resolver *upstream.Resolver
	// Fetcher must not carry a gate; the client adds the queue and the window itself.
	Fetcher *upstream.Fetcher
	Limiter *ratelimit.Window
	Retry   upstream.RetryPolicy

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	PreloadTTL     time.Duration

	// DetailSlug is applied to raw slugs before a detail lookup.
	DetailSlug   content.SlugOptions
	HomeFallback bool

	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Client runs the fetch pipeline: slug cleanup, cache, coalescing, retry passes, the
// request queue, endpoint fallback and normalization.
type Client struct {
	resolver *upstream.Resolver
	queued   *upstream.Fetcher
	windowed *upstream.Fetcher
	queue    *ratelimit.Queue
	limiter  *ratelimit.Window
	retry    upstream.RetryPolicy
	timeout  time.Duration

	detailSlug   content.SlugOptions
	homeFallback bool

	episodes  *cache.Tiered[normalize.Episode]
	details   *cache.Tiered[normalize.Detail]
	searches  *cache.Cache[[]normalize.Card]
	homes     *cache.Cache[normalize.Home]
	schedules *cache.Cache[[]normalize.ScheduleDay]
	unlimited *cache.Cache[[]normalize.Card]

	group    singleflight.Group
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// flights outlive the request that started them and end with the client
	lifetime context.Context
	stop     context.CancelFunc
}

func New(opts Options) (*Client, error) {
	if opts.Resolver == nil {
		return nil, errors.New("pipeline: resolver is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 8 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.PreloadTTL <= 0 {
		opts.PreloadTTL = 10 * time.Minute
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}

	queue := ratelimit.NewQueue(opts.Limiter, opts.Logger)
	var window upstream.Gate
	if opts.Limiter != nil {
		window = opts.Limiter
	}
	lifetime, stop := context.WithCancel(context.Background())

	return &Client{
		resolver:     opts.Resolver,
		queued:       opts.Fetcher.WithGate(queue),
		windowed:     opts.Fetcher.WithGate(window),
		queue:        queue,
		limiter:      opts.Limiter,
		retry:        opts.Retry,
		timeout:      opts.RequestTimeout,
		detailSlug:   opts.DetailSlug,
		homeFallback: opts.HomeFallback,
		episodes:     cache.NewTiered[normalize.Episode](opts.CacheTTL, opts.PreloadTTL, opts.Now),
		details:      cache.NewTiered[normalize.Detail](opts.CacheTTL, opts.PreloadTTL, opts.Now),
		searches:     cache.New[[]normalize.Card](opts.CacheTTL, opts.Now),
		homes:        cache.New[normalize.Home](opts.CacheTTL, opts.Now),
		schedules:    cache.New[[]normalize.ScheduleDay](opts.CacheTTL, opts.Now),
		unlimited:    cache.New[[]normalize.Card](opts.CacheTTL, opts.Now),
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		now:          opts.Now,
		lifetime:     lifetime,
		stop:         stop,
	}, nil
}

// Close stops the request queue and cancels fetches still in flight.
func (c *Client) Close() {
	c.stop()
	c.queue.Close()
}

// Endpoints returns the candidate templates for one content type and operation.
func (c *Client) Endpoints(t content.Type, op content.Operation) ([]string, error) {
	return c.resolver.Resolve(t, op)
}

type Stats struct {
	Cache          cache.Stats          `json:"cache"`
	Queue          ratelimit.QueueStats `json:"queue"`
	WindowInFlight int                  `json:"windowInFlight"`
	Listings       int                  `json:"listings"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Cache:          c.episodes.Stats().Add(c.details.Stats()),
		Queue:          c.queue.Stats(),
		WindowInFlight: c.limiter.InFlight(),
		Listings:       c.searches.Len() + c.homes.Len() + c.schedules.Len() + c.unlimited.Len(),
	}
}

type store[T any] interface {
	Get(key string) (T, bool)
	Put(key string, value T)
}

// request describes one pipeline lookup. value is what the endpoint templates are
// expanded with: the slug, the search query, or nothing for listings.
type request[T any] struct {
	op     content.Operation
	ref    content.Ref
	value  string
	store  store[T]
	decode func(data json.RawMessage) T
}

func (r request[T]) key() string {
	return string(r.op) + ":" + r.ref.Key()
}

// load serves r from cache or runs one shared fetch for every concurrent caller.
func load[T any](ctx context.Context, c *Client, r request[T]) (T, error) {
	key := r.key()
	if value, ok := r.store.Get(key); ok {
		return value, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// a concurrent flight may have filled the cache while this one was queued
		if value, ok := r.store.Get(key); ok {
			return value, nil
		}
		value, err := fetch(c.lifetime, c, r, c.queued, true)
		if err != nil {
			return nil, err
		}
		r.store.Put(key, value)
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// fetch resolves the candidates and walks them, with retry passes when retry is set.
// The outcome is recorded either way.
func fetch[T any](ctx context.Context, c *Client, r request[T], fetcher *upstream.Fetcher, retry bool) (T, error) {
	var zero T
	started := c.now()
	entry := models.FetchLogEntry{
		Operation:   string(r.op),
		ContentType: string(r.ref.Type),
		Slug:        r.ref.Slug,
	}
	if !retry {
		entry.Operation = "preload_" + string(r.op)
	}

	templates, err := c.resolver.Resolve(r.ref.Type, r.op)
	if err != nil {
		c.record(entry, started, err)
		return zero, err
	}

	var payload *upstream.Payload
	attempt := func(ctx context.Context, pass int) error {
		p, err := fetcher.FetchWithFallback(ctx, r.value, templates, c.timeout)
		var failure *upstream.FailureError
		switch {
		case err == nil:
			entry.Attempts += len(p.Attempts)
			payload = p
			return nil
		case errors.As(err, &failure):
			entry.Attempts += len(failure.Attempts)
			c.logger.Debug("upstream pass failed",
				"operation", string(r.op),
				"contentType", string(r.ref.Type),
				"slug", r.ref.Slug,
				"pass", pass,
				"trail", upstream.Trail(failure.Attempts),
			)
		}
		return err
	}

	if retry {
		err = c.retry.Do(ctx, attempt)
	} else {
		err = attempt(ctx, 0)
	}
	if err != nil {
		c.record(entry, started, err)
		return zero, fmt.Errorf("%s %s: %w", r.op, r.ref.Key(), err)
	}

	entry.Endpoint = payload.Endpoint
	entry.ViaProxy = payload.ViaProxy
	c.record(entry, started, nil)
	return r.decode(payload.Data), nil
}

func (c *Client) record(entry models.FetchLogEntry, started time.Time, err error) {
	entry.Outcome = upstream.Kind(err)
	entry.DurationMS = c.now().Sub(started).Milliseconds()
	entry.CreatedAt = c.now().UTC()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("upstream fetch failed",
			"operation", entry.Operation,
			"contentType", entry.ContentType,
			"slug", entry.Slug,
			"outcome", entry.Outcome,
			"attempts", entry.Attempts,
			"error", err,
		)
	}

	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if recErr := c.recorder.Record(ctx, entry); recErr != nil {
		c.logger.Error("record fetch outcome", "operation", entry.Operation, "error", recErr)
	}
}
