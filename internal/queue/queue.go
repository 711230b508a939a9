// Package queue runs named tasks on a fixed set of workers. Tasks are taken
// in submission order; a task may submit follow-up tasks to build a chain.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when submitting to a stopped pool.
var ErrClosed = errors.New("queue: pool is stopped")

// Task is a unit of work. Its error is logged, never retried.
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Pool is an unbounded FIFO served by a fixed number of workers.
type Pool struct {
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	pending []job
	timers  map[*time.Timer]struct{}
	closed  bool

	ready    chan struct{}
	inflight sync.WaitGroup

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns a Pool with workers goroutines (default 4). Call Start before
// tasks can run; submissions made earlier are kept.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: workers,
		logger:  logger,
		timers:  map[*time.Timer]struct{}{},
		ready:   make(chan struct{}, 1),
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.group = g
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gCtx)
			return nil
		})
	}
	p.signal()
}

func (p *Pool) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *Pool) pop() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return job{}, false
	}
	j := p.pending[0]
	p.pending[0] = job{}
	p.pending = p.pending[1:]
	if len(p.pending) > 0 {
		p.signal()
	}
	return j, true
}

func (p *Pool) work(ctx context.Context) {
	for {
		j, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.ready:
				continue
			}
		}
		p.exec(ctx, j)
	}
}

func (p *Pool) exec(ctx context.Context, j job) {
	defer p.inflight.Done()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("task panicked", "task", j.name, "panic", fmt.Sprint(rec))
		}
	}()

	start := time.Now()
	if err := j.task(ctx); err != nil {
		p.logger.Warn("task failed", "task", j.name, "err", err, "duration", time.Since(start))
		return
	}
	p.logger.Debug("task done", "task", j.name, "duration", time.Since(start))
}

// Submit queues task.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.inflight.Add(1)
	p.pending = append(p.pending, job{name: name, task: task})
	p.signal()
	return nil
}

// SubmitAfter queues task once delay has elapsed. Scheduled tasks do not
// count as in flight until they are queued.
func (p *Pool) SubmitAfter(delay time.Duration, name string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()
		if err := p.Submit(name, task); err != nil {
			p.logger.Warn("dropping scheduled task", "task", name, "err", err)
		}
	})
	p.timers[t] = struct{}{}
	return nil
}

// Len returns the number of queued tasks and of scheduled ones.
func (p *Pool) Len() (queued, scheduled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), len(p.timers)
}

// Wait blocks until every queued and running task, including tasks they
// submit, has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop rejects new tasks, cancels scheduled ones, drops queued ones and
// waits for running tasks to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = map[*time.Timer]struct{}{}
	dropped := len(p.pending)
	p.pending = nil
	cancel, g := p.cancel, p.group
	p.mu.Unlock()

	for i := 0; i < dropped; i++ {
		p.inflight.Done()
	}
	if dropped > 0 {
		p.logger.Warn("dropped queued tasks on stop", "count", dropped)
	}
	if cancel != nil {
		cancel()
		_ = g.Wait()
	}
}
