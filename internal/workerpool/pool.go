// Package workerpool runs I/O-bound tasks with a bounded, resizable number of
// concurrent workers in front of a bounded FIFO queue.
//
// Accounting invariant, observable through Stats at any instant:
//
//	Submitted == Queued + InFlight + Completed + Cancelled
//
// Rejected submissions are counted separately and never enter the queue.
package workerpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
)

// Task is a unit of work. ctx is cancelled only when a drain deadline expires.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of a task that ran, or was cancelled before start.
type Result[T any] struct {
	ID       uint64
	Name     string
	Value    T
	Err      error
	Duration time.Duration
}

// Handle tracks one submitted task.
type Handle[T any] struct {
	id   uint64
	name string
	done chan struct{}
	res  Result[T]
}

func (h *Handle[T]) ID() uint64 { return h.id }

// Done is closed once the task has finished or was cancelled.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes or ctx ends.
func (h *Handle[T]) Wait(ctx context.Context) (Result[T], error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}

func (h *Handle[T]) finish(res Result[T]) {
	h.res = res
	close(h.done)
}

// Stats is a point-in-time snapshot of the pool counters.
type Stats struct {
	Submitted  int64
	Queued     int64
	InFlight   int64
	Completed  int64
	Rejected   int64
	Cancelled  int64
	MaxWorkers int
}

type job[T any] struct {
	handle *Handle[T]
	task   Task[T]
}

// Pool is safe for concurrent use by multiple producers.
type Pool[T any] struct {
	name      string
	queueSize int

	mu         sync.Mutex
	queue      []*job[T]
	inFlight   map[uint64]*Handle[T]
	maxWorkers int
	closed     bool
	nextID     uint64
	stats      Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool with maxWorkers concurrent workers and room for
// queueSize pending tasks.
func New[T any](name string, maxWorkers, queueSize int) (*Pool[T], error) {
	if maxWorkers < 1 {
		return nil, domainErrors.NewValidationError("max_workers", "must be at least 1")
	}
	if queueSize < 1 {
		return nil, domainErrors.NewValidationError("queue_size", "must be at least 1")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		name:       name,
		queueSize:  queueSize,
		inFlight:   make(map[uint64]*Handle[T]),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (p *Pool[T]) Name() string { return p.name }

// Size returns the current worker limit.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxWorkers
}

// Submit enqueues task. It never blocks on task execution.
func (p *Pool[T]) Submit(name string, task Task[T]) (*Handle[T], error) {
	if task == nil {
		return nil, fmt.Errorf("submit %s: nil task: %w", name, domainErrors.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domainErrors.ErrPoolShutDown
	}
	if len(p.queue) >= p.queueSize {
		p.stats.Rejected++
		return nil, domainErrors.ErrPoolSaturated
	}

	p.nextID++
	h := &Handle[T]{id: p.nextID, name: name, done: make(chan struct{})}
	p.queue = append(p.queue, &job[T]{handle: h, task: task})
	p.stats.Submitted++
	p.dispatchLocked()
	return h, nil
}

// Resize changes the worker limit. Work already running is never preempted;
// a smaller limit applies as running tasks finish.
func (p *Pool[T]) Resize(n int) error {
	if n < 1 {
		return domainErrors.NewValidationError("max_workers", "must be at least 1")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domainErrors.ErrPoolShutDown
	}
	p.maxWorkers = n
	p.dispatchLocked()
	return nil
}

// Stats returns a consistent snapshot of the counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = int64(len(p.queue))
	s.InFlight = int64(len(p.inFlight))
	s.MaxWorkers = p.maxWorkers
	return s
}

// Cancel shuts the pool down. Queued tasks are cancelled immediately and
// in-flight tasks are awaited. If ctx ends first, the task context is
// cancelled so tasks can stop at their next safe point, and the pool still
// waits for them to return.
//
// It returns the number of queued tasks cancelled and the results of the
// tasks that were in flight. A second call returns ErrPoolShutDown.
func (p *Pool[T]) Cancel(ctx context.Context) (int, []Result[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil, domainErrors.ErrPoolShutDown
	}
	p.closed = true

	pending := p.queue
	p.queue = nil
	p.stats.Cancelled += int64(len(pending))

	running := make([]*Handle[T], 0, len(p.inFlight))
	for _, h := range p.inFlight {
		running = append(running, h)
	}
	p.mu.Unlock()

	for _, j := range pending {
		j.handle.finish(Result[T]{ID: j.handle.id, Name: j.handle.name, Err: domainErrors.ErrTaskCancelled})
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
		err = fmt.Errorf("drain pool %s: in-flight tasks cancelled: %w", p.name, ctx.Err())
	}
	p.cancel()

	sort.Slice(running, func(i, j int) bool { return running[i].id < running[j].id })
	results := make([]Result[T], 0, len(running))
	for _, h := range running {
		results = append(results, h.res)
	}
	return len(pending), results, err
}

// dispatchLocked starts queued tasks while there is worker capacity.
func (p *Pool[T]) dispatchLocked() {
	for !p.closed && len(p.inFlight) < p.maxWorkers && len(p.queue) > 0 {
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]

		p.inFlight[j.handle.id] = j.handle
		p.wg.Add(1)
		go p.run(j)
	}
}

func (p *Pool[T]) run(j *job[T]) {
	defer p.wg.Done()

	start := time.Now()
	value, err := p.call(j.task)
	res := Result[T]{
		ID:       j.handle.id,
		Name:     j.handle.name,
		Value:    value,
		Err:      err,
		Duration: time.Since(start),
	}

	p.mu.Lock()
	delete(p.inFlight, j.handle.id)
	p.stats.Completed++
	p.dispatchLocked()
	p.mu.Unlock()

	j.handle.finish(res)
}

func (p *Pool[T]) call(task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(p.ctx)
}
