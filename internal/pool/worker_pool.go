package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed  = errors.New("worker pool is closed")
	ErrQueueFull   = errors.New("worker pool queue is full")
	ErrTaskAborted = errors.New("task aborted by panic")
)

// Task represents a unit of blocking work.
type Task func(ctx context.Context) error

// WorkerPool runs blocking tasks on a fixed set of dedicated worker
// goroutines so that callers never execute the work inline.
//
// There is no cancellation of dispatched work: a task, once queued, runs to
// completion on a context detached from the submitter's. DispatchWait may
// return early when the submitter's context ends, but the task keeps running.
type WorkerPool struct {
	queue  chan job
	wg     sync.WaitGroup
	logger *zap.Logger

	// Guards submission against Close so no send can race the queue close.
	mu     sync.RWMutex
	closed bool

	// Metrics
	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Int64
	rejected  atomic.Int64
}

type job struct {
	task   Task
	ctx    context.Context
	result chan error
}

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultWorkerPoolConfig returns sensible defaults. QueueSize bounds the
// number of tasks waiting for a worker; submissions beyond it are rejected
// rather than queued without limit.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   64,
		QueueSize: 1024,
	}
}

// NewWorkerPool creates a pool and starts its workers.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkerPoolConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWorkerPoolConfig().QueueSize
	}

	p := &WorkerPool{
		queue:  make(chan job, config.QueueSize),
		logger: logger.With(zap.String("component", "worker_pool")),
	}

	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.worker()
	}

	return p
}

// Dispatch submits a task and returns a channel that will receive exactly one
// result. The task runs on ctx stripped of cancellation, so abandoning the
// returned channel does not stop the work.
func (p *WorkerPool) Dispatch(ctx context.Context, task Task) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	p.submitted.Add(1)

	j := job{
		task:   task,
		ctx:    context.WithoutCancel(ctx),
		result: make(chan error, 1),
	}

	select {
	case p.queue <- j:
		return j.result, nil
	default:
		p.rejected.Add(1)
		return nil, ErrQueueFull
	}
}

// DispatchWait submits a task and waits for its result or the caller's
// context. On ctx expiry the task is NOT cancelled; it finishes on its own
// and its result is discarded.
func (p *WorkerPool) DispatchWait(ctx context.Context, task Task) error {
	result, err := p.Dispatch(ctx, task)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		p.active.Add(1)
		err := p.runTask(j)
		p.active.Add(-1)

		switch {
		case err == nil:
			p.completed.Add(1)
		case errors.Is(err, ErrTaskAborted):
			p.aborted.Add(1)
		default:
			p.failed.Add(1)
		}

		j.result <- err
		close(j.result)
	}
}

func (p *WorkerPool) runTask(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrTaskAborted, r)
		}
	}()

	return j.task(j.ctx)
}

// Close stops accepting tasks and waits for queued work to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Aborted:   p.aborted.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats contains pool statistics.
type WorkerPoolStats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
	Rejected  int64 `json:"rejected"`
}
