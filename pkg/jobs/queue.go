// Package jobs runs fire-and-forget work, such as participant notifications,
// off the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue once Stop has begun.
var ErrQueueClosed = errors.New("queue closed")

// maxBackoff caps the delay between two attempts of the same job.
const maxBackoff = 30 * time.Second

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. Job.Attempt is zero on the first try.
type Handler func(context.Context, Job) error

// QueueConfig tunes a Queue. Zero values select defaults.
type QueueConfig struct {
	Workers    int
	BufferSize int
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// RetryDelay is the first backoff; later ones double up to maxBackoff.
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Logger         *zap.Logger
}

// Queue is a bounded in-memory worker pool. A job is retried in the worker
// that picked it up, so retries never compete with fresh work for buffer
// space. Handler errors and panics stay inside the queue.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	jobs    chan Job
	ctx     context.Context
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue builds a queue around handler. It does nothing until Start.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Cancelling ctx does not abort jobs already
// accepted; Stop drains them. Later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.ctx = context.WithoutCancel(ctx)
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers), zap.Int("buffer", q.cfg.BufferSize))
}

// Stop refuses new jobs, finishes the buffered ones and waits for workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.closed {
		q.closed = true
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := len(q.jobs)
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue stopped", zap.Int("drained", pending))
}

// Enqueue hands job to the workers without blocking. A full buffer is an
// error so request handlers are never stalled by a slow sender.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	switch {
	case q.closed:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	case !q.started:
		return fmt.Errorf("queue %s not started", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s full", q.name)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
	}
}

// process runs job until it succeeds or its retries are spent.
func (q *Queue) process(job Job) {
	delay := q.cfg.RetryDelay
	for {
		err := q.attempt(job)
		if err == nil {
			return
		}
		if job.Attempt >= q.cfg.MaxRetries {
			q.logger.Error("job dropped after retries",
				zap.String("job_id", job.ID),
				zap.String("type", job.Type),
				zap.Int("attempts", job.Attempt+1),
				zap.Duration("age", time.Since(job.Enqueued)),
				zap.Error(err))
			return
		}
		q.logger.Warn("job failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.Sleep(delay)
		job.Attempt++
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func (q *Queue) attempt(job Job) (err error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return q.handler(ctx, job)
}
