package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrQueueClosed = errors.New("ratelimit: queue closed")

const queueBuffer = 1024

const (
	jobPending int32 = iota
	jobRunning
	jobAbandoned
)

type job struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error
}

// Queue serializes work through one worker goroutine. Jobs run strictly in submission
// order and each one waits for room in the window before it starts. A slow job holds up
// everything behind it; there is no per-job timeout at this level.
type Queue struct {
	limiter *Window
	logger  *slog.Logger

	jobs      chan *job
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	processed atomic.Int64
	skipped   atomic.Int64
}

// NewQueue starts the worker. A nil limiter runs jobs back to back.
func NewQueue(limiter *Window, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		limiter: limiter,
		logger:  logger,
		jobs:    make(chan *job, queueBuffer),
		closed:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.work()
	return q
}

// Run enqueues fn and blocks until it has run. If ctx ends before the worker reaches the
// job, the job is skipped and ctx.Err() is returned.
func (q *Queue) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- j:
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			return ctx.Err()
		}
		return <-j.done
	case <-q.closed:
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			return ErrQueueClosed
		}
		return <-j.done
	}
}

// Schedule runs task through q and hands back its result.
func Schedule[T any](ctx context.Context, q *Queue, task func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := q.Run(ctx, func(ctx context.Context) error {
		value, err := task(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.closed:
			return
		case j := <-q.jobs:
			q.runJob(j)
		}
	}
}

func (q *Queue) runJob(j *job) {
	if j.ctx.Err() != nil || !j.state.CompareAndSwap(jobPending, jobRunning) {
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			j.done <- j.ctx.Err()
		}
		q.skipped.Add(1)
		return
	}

	if err := q.limiter.Wait(j.ctx); err != nil {
		j.done <- err
		q.skipped.Add(1)
		return
	}

	j.done <- j.fn(j.ctx)
	q.processed.Add(1)
}

// Close stops the worker after the job in progress. Jobs still waiting fail with
// ErrQueueClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	q.wg.Wait()
	q.logger.Debug("request queue stopped", "processed", q.processed.Load(), "skipped", q.skipped.Load())
}

type QueueStats struct {
	Waiting   int   `json:"waiting"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Waiting:   len(q.jobs),
		Processed: q.processed.Load(),
		Skipped:   q.skipped.Load(),
	}
}
