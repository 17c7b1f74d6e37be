package workerpool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs tasks on a fixed set of goroutines fed by a bounded FIFO queue.
// The bridge runs each message's fetch-and-dispatch step on it so a slow
// image download does not stall reads.
type Pool struct {
	tasks   chan Task
	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts maxWorkers goroutines behind a queue of queueSize tasks.
func New(maxWorkers, queueSize int) *Pool {
	maxWorkers = max(maxWorkers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go func() {
			defer p.workers.Done()
			for task := range p.tasks {
				p.run(task)
			}
		}()
	}

	log.Info("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is cancelled when Shutdown returns. Tasks derive their own
// contexts from it.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues task. It reports false once Shutdown has begun or when the
// queue is full; it never blocks.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Shutdown refuses new tasks and waits for queued ones to finish or for ctx
// to expire, then cancels Context so stragglers abort. Safe to call twice.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}
	p.cancel()
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
