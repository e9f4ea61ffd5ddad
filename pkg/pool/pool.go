// Package pool provides a fixed-size worker pool consuming jobs from a shared
// bounded queue.
//
// The pool is used by the dispatcher in pooled mode: every accepted connection
// becomes one Job. Workers survive panicking jobs, so a single misbehaving
// connection never shrinks the pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/boowebserver/internal/logger"
)

var (
	// ErrInvalidPoolSize is returned by New when the requested size is zero.
	ErrInvalidPoolSize = errors.New("invalid pool size: must be >= 1")

	// ErrPoolClosed is returned by Submit after Shutdown has begun.
	ErrPoolClosed = errors.New("pool is shut down")
)

// Job is one deferred unit of work. A job is owned by the queue until exactly
// one worker claims it.
type Job func()

// Observer receives pool lifecycle events. It is used to feed metrics.
type Observer interface {
	JobQueued()
	JobStarted()
	JobFinished(panicked bool)
}

type noopObserver struct{}

func (noopObserver) JobQueued()       {}
func (noopObserver) JobStarted()      {}
func (noopObserver) JobFinished(bool) {}

// Option configures a Pool.
type Option func(*Pool)

// WithQueueDepth sets the capacity of the job queue. Submit blocks while the
// queue is full. Zero keeps the default of 64 slots per worker.
func WithQueueDepth(depth int) Option {
	return func(p *Pool) {
		if depth > 0 {
			p.queueDepth = depth
		}
	}
}

// WithObserver installs an Observer for pool events.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// Pool owns a fixed set of workers and the sending end of their job queue.
//
// Invariants:
//   - size >= 1
//   - at most one job runs per worker, so at most size jobs run concurrently
//   - every job accepted by Submit runs exactly once, even across Shutdown
//
// Thread safety:
// Submit, SubmitContext and Shutdown are safe for concurrent use.
type Pool struct {
	size       int
	queueDepth int
	observer   Observer

	jobs    chan Job
	workers []*worker

	// mu guards closed and the jobs channel close. Submitters hold the read
	// lock while sending so Shutdown never closes a channel under a sender.
	mu     sync.RWMutex
	closed bool

	wg           sync.WaitGroup
	shutdownOnce sync.Once

	active  atomic.Int32
	pending atomic.Int32
}

// worker is an identity plus its goroutine. It lives as long as the pool.
type worker struct {
	id int
}

// New creates a pool with size workers and starts them.
//
// Parameters:
//   - size: number of workers, must be >= 1
//   - opts: optional queue depth and observer
//
// Returns:
//   - *Pool: running pool
//   - error: ErrInvalidPoolSize when size is 0; no goroutine is started in that case
func New(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}

	p := &Pool{
		size:       size,
		queueDepth: size * 64,
		observer:   noopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.jobs = make(chan Job, p.queueDepth)
	p.workers = make([]*worker, size)

	for i := range p.workers {
		w := &worker{id: i}
		p.workers[i] = w
		p.wg.Add(1)
		go p.run(w)
	}

	logger.Debug("Worker pool started: size=%d queue_depth=%d", size, p.queueDepth)
	return p, nil
}

// run is the worker loop: claim the next job, run it to completion, repeat.
// The loop exits once the queue is closed and drained.
func (p *Pool) run(w *worker) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.pending.Add(-1)
		p.execute(w, job)
	}

	logger.Debug("Worker %d exiting", w.id)
}

// execute runs a single job and confines any panic to it.
func (p *Pool) execute(w *worker, job Job) {
	p.active.Add(1)
	p.observer.JobStarted()

	panicked := true
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker %d: job panicked: %v", w.id, r)
		}
		p.active.Add(-1)
		p.observer.JobFinished(panicked)
	}()

	job()
	panicked = false
}

// Submit enqueues a job. It blocks only while the queue is full.
//
// Returns:
//   - nil once the job is queued
//   - ErrPoolClosed if Shutdown has begun
func (p *Pool) Submit(job Job) error {
	return p.SubmitContext(context.Background(), job)
}

// SubmitContext is Submit with a context bounding the wait for a free queue slot.
//
// Returns:
//   - nil once the job is queued
//   - ErrPoolClosed if Shutdown has begun
//   - ctx.Err() if the context ends before a slot frees up
func (p *Pool) SubmitContext(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("pool: nil job")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	select {
	case p.jobs <- job:
		p.observer.JobQueued()
		return nil
	case <-ctx.Done():
		p.pending.Add(-1)
		return ctx.Err()
	}
}

// Shutdown closes the queue to new submissions and blocks until every worker
// has finished its current job, drained the queue and exited.
//
// Safe to call multiple times; later calls wait for the same drain.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()

		logger.Debug("Worker pool shutdown initiated: %d job(s) pending", p.pending.Load())
	})

	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Pending returns the number of queued jobs not yet claimed by a worker.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}
