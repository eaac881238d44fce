package pools

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

// ErrPoolClosed is returned by Submit after Close has been called
var ErrPoolClosed = errors.New("pools: worker pool closed")

// Handler processes one item. buf is private to the calling worker and is
// reused for every item that worker runs.
type Handler[T any] func(buf *bytebufferpool.ByteBuffer, item T) error

// Observer receives task lifecycle events, e.g. to export metrics
type Observer interface {
	TaskSubmitted()
	TaskStarted()
	TaskFinished(d time.Duration, err error)
}

// Option configures a WorkerPool
type Option func(*options)

type options struct {
	onError  func(error)
	observer Observer
}

// WithErrorHandler sets the function that reports handler errors.
// It is called from worker goroutines.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithObserver attaches an Observer to the pool
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WorkerPool runs a fixed number of workers that compete for items on one
// bounded queue. The queue holds as many items as there are workers; once it
// is full Submit blocks, which pushes back on the producer.
type WorkerPool[T any] struct {
	numWorkers int
	tasks      chan T
	handler    Handler[T]
	opts       options

	// mu makes Submit and Close mutually exclusive so nothing is sent on a
	// closed channel. Submitters hold it shared while blocked on a full queue.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksFailed    atomic.Uint64
		active         atomic.Int64
	}
}

// NewWorkerPool starts numWorkers workers running handler. A non-positive
// numWorkers means one worker per CPU.
func NewWorkerPool[T any](numWorkers int, handler Handler[T], opts ...Option) *WorkerPool[T] {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	p := &WorkerPool[T]{
		numWorkers: numWorkers,
		tasks:      make(chan T, numWorkers),
		handler:    handler,
	}
	for _, opt := range opts {
		opt(&p.opts)
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}

	return p
}

// Submit queues item for the next free worker, blocking while the queue is full
func (p *WorkerPool[T]) Submit(item T) error {
	return p.SubmitContext(context.Background(), item)
}

// SubmitContext is like Submit but gives up when ctx is done
func (p *WorkerPool[T]) SubmitContext(ctx context.Context, item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- item:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.stats.tasksSubmitted.Add(1)
	if p.opts.observer != nil {
		p.opts.observer.TaskSubmitted()
	}
	return nil
}

// run is the main loop of a worker goroutine. It exits once the queue is
// closed and drained.
func (p *WorkerPool[T]) run() {
	defer p.wg.Done()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for item := range p.tasks {
		p.execute(buf, item)
	}
}

func (p *WorkerPool[T]) execute(buf *bytebufferpool.ByteBuffer, item T) {
	p.stats.active.Add(1)
	if p.opts.observer != nil {
		p.opts.observer.TaskStarted()
	}
	start := time.Now()

	err := p.call(buf, item)

	p.stats.active.Add(-1)
	p.stats.tasksCompleted.Add(1)
	if err != nil {
		p.stats.tasksFailed.Add(1)
		if p.opts.onError != nil {
			p.opts.onError(err)
		}
	}
	if p.opts.observer != nil {
		p.opts.observer.TaskFinished(time.Since(start), err)
	}
}

// call runs the handler, turning a panic into an error so the worker survives
func (p *WorkerPool[T]) call(buf *bytebufferpool.ByteBuffer, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pools: handler panic: %v", r)
		}
	}()
	return p.handler(buf, item)
}

// Close stops accepting items, lets the workers finish everything already
// queued, and waits for them to exit. It is safe to call more than once.
func (p *WorkerPool[T]) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool[T]) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksFailed:    p.stats.tasksFailed.Load(),
		TasksPending:   submitted - min(submitted, completed),
		Active:         p.stats.active.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksPending   uint64
	Active         int64
}
