// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/queue"
)

// Queue is an in-memory queue with one FIFO backlog per named queue.
// Submit never blocks: handlers submit their own follow-ups, so a bounded
// buffer would stall the workers that drain it. Delayed tasks wait on a
// timer and join the backlog once their ETA passes.
type Queue struct {
	capacity int
	now      func() time.Time

	mu     sync.Mutex
	lanes  map[string]*lane
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

type lane struct {
	tasks []queue.Task
	// ready holds at most one wakeup for a blocked Dequeue.
	ready chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs a new queue. capacity presizes each backlog; it is not
// a limit.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		now:      time.Now,
		lanes:    map[string]*lane{},
		timers:   map[*time.Timer]struct{}{},
		done:     make(chan struct{}),
	}
}

// laneLocked returns the named lane. q.mu must be held.
func (q *Queue) laneLocked(name string) *lane {
	l, ok := q.lanes[name]
	if !ok {
		l = &lane{tasks: make([]queue.Task, 0, q.capacity), ready: make(chan struct{}, 1)}
		q.lanes[name] = l
	}
	return l
}

// pushLocked appends t and wakes one waiter. q.mu must be held.
func (q *Queue) pushLocked(t queue.Task) {
	l := q.laneLocked(t.Queue)
	l.tasks = append(l.tasks, t)
	l.wake()
}

func (l *lane) wake() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Submit stores t without blocking. Tasks with a future ETA are held until it passes.
func (q *Queue) Submit(ctx context.Context, t queue.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit canceled: %w", err)
	}
	if t.Queue == "" {
		t.Queue = queue.Default
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	if delay := t.ETA.Sub(q.now()); !t.ETA.IsZero() && delay > 0 {
		q.scheduleLocked(t, delay)
		return nil
	}
	q.pushLocked(t)
	return nil
}

func (q *Queue) scheduleLocked(t queue.Task, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		delete(q.timers, timer)
		q.pushLocked(t)
	})
	q.timers[timer] = struct{}{}
}

// Dequeue pops the next task from the named queue, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context, name string) (queue.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return queue.Task{}, queue.ErrClosed
		}
		l := q.laneLocked(name)
		if len(l.tasks) > 0 {
			t := l.tasks[0]
			l.tasks[0] = queue.Task{}
			l.tasks = l.tasks[1:]
			if len(l.tasks) > 0 {
				l.wake()
			}
			q.mu.Unlock()
			return t, nil
		}
		ready := l.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
			return queue.Task{}, queue.ErrClosed
		case <-ready:
		}
	}
}

// Pending returns the number of ready and delayed tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.timers)
	for _, l := range q.lanes {
		n += len(l.tasks)
	}
	return n
}

// Close stops pending timers, drops queued tasks and releases blocked
// callers. Closing twice is safe.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.lanes = map[string]*lane{}
	return nil
}
