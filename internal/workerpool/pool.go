// Package workerpool runs blocking jobs on a fixed set of goroutines behind a
// bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when every worker is busy and the queue is full.
	ErrQueueFull = errors.New("workerpool: queue full")
	// ErrClosed is returned by Do after Close has been called.
	ErrClosed = errors.New("workerpool: closed")
)

// Job is a unit of work. Its context is canceled when the caller gives up.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Pool is a fixed-size worker pool.
type Pool struct {
	tasks  chan task
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts workers goroutines that consume a queue of queueSize pending jobs.
func New(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		tasks:  make(chan task, queueSize),
		logger: logger.Named("workerpool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		t.done <- p.run(id, t)
	}
}

func (p *Pool) run(id int, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Int("worker", id), zap.Any("panic", r))
			err = fmt.Errorf("workerpool: job panicked: %v", r)
		}
	}()
	return t.job(t.ctx)
}

// Do queues job and waits for it. If ctx ends first Do returns ctx.Err(); the
// job still runs to completion with a canceled context.
func (p *Pool) Do(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	t := task{ctx: jobCtx, job: job, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		cancel()
		return ErrClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		cancel()
		return ErrQueueFull
	}

	select {
	case err := <-t.done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
