package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a session worker waits for new jobs before exiting.
const DefaultIdleTimeout = time.Minute

// job is one unit of work submitted to a session.
type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// worker drains the inbound channel of one session.
type worker struct {
	jobs    chan job
	pending int // submitted and not yet finished, guarded by Queue.mu
}

// Queue serializes work per session. Each active session has one inbound channel
// and one worker goroutine that applies jobs strictly in arrival order while holding
// the Manager's session lock. Sessions never share a worker, so different sessions
// proceed in parallel.
type Queue struct {
	manager *Manager
	idle    time.Duration
	depth   int

	mu      sync.Mutex
	workers map[string]*worker
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithIdleTimeout sets how long an idle worker lingers.
func WithIdleTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.idle = d
		}
	}
}

// WithDepth sets the buffer of each session's inbound channel.
func WithDepth(n int) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.depth = n
		}
	}
}

// NewQueue creates a queue that locks sessions through manager.
func NewQueue(manager *Manager, opts ...QueueOption) *Queue {
	q := &Queue{
		manager: manager,
		idle:    DefaultIdleTimeout,
		depth:   64,
		workers: make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Do submits fn to the session's queue and waits for its result.
// fn runs with the session lock held and must not call back into the Manager's
// locking methods for the same session.
func (q *Queue) Do(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	w, ok := q.workers[sessionID]
	if !ok {
		w = &worker{jobs: make(chan job, q.depth)}
		q.workers[sessionID] = w
		go q.run(sessionID, w)
	}
	w.pending++
	q.mu.Unlock()

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		q.finish(w)
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The job still runs in order; only the wait is abandoned.
		return ctx.Err()
	}
}

// Workers returns the number of sessions with a live worker.
func (q *Queue) Workers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}

func (q *Queue) run(sessionID string, w *worker) {
	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-w.jobs:
			j.done <- q.apply(sessionID, j)
			q.finish(w)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.idle)

		case <-timer.C:
			q.mu.Lock()
			if w.pending == 0 {
				delete(q.workers, sessionID)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			timer.Reset(q.idle)
		}
	}
}

// apply runs one job under the session lock. A panicking job fails with an error
// and leaves the worker running.
func (q *Queue) apply(sessionID string, j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			q.manager.logger.Error("session job panicked", "session_id", sessionID, "panic", r)
			err = fmt.Errorf("session %s: job panicked: %v", sessionID, r)
		}
	}()
	return q.manager.WithLock(j.ctx, sessionID, j.fn)
}

func (q *Queue) finish(w *worker) {
	q.mu.Lock()
	w.pending--
	q.mu.Unlock()
}
