package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"archive-sync-service/internal/logger"
)

// JobQueue is a bounded in-process work queue for channel tasks. Delayed
// entries move to the ready list when their backoff expires. Durability
// comes from the job rows, which Manager.Start re-enqueues after a restart.
type JobQueue struct {
	mu       sync.Mutex
	ready    []*Task
	delayed  map[string]*time.Timer
	capacity int
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

func NewJobQueue(capacity int) *JobQueue {
	return &JobQueue{
		delayed:  make(map[string]*time.Timer),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *JobQueue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admitLocked(); err != nil {
		return err
	}
	q.ready = append(q.ready, t)
	q.signal()
	return nil
}

// EnqueueAfter makes t ready once delay has passed.
func (q *JobQueue) EnqueueAfter(t *Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(t)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admitLocked(); err != nil {
		return err
	}
	q.scheduleLocked(t, delay)

	logger.Log.Debug("Task scheduled for redelivery",
		zap.String("jobID", t.JobID),
		zap.Duration("delay", delay),
		zap.Int("attempt", t.Attempt),
	)
	return nil
}

// scheduleLocked arms the redelivery timer for t, replacing any earlier one.
// A replaced timer that already fired delivers nothing.
func (q *JobQueue) scheduleLocked(t *Task, delay time.Duration) {
	if old, ok := q.delayed[t.JobID]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed || q.delayed[t.JobID] != timer {
			return
		}
		delete(q.delayed, t.JobID)
		q.ready = append(q.ready, t)
		q.signal()
	})
	q.delayed[t.JobID] = timer
}

func (q *JobQueue) admitLocked() error {
	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.ready)+len(q.delayed) >= q.capacity {
		return ErrQueueFull
	}
	return nil
}

func (q *JobQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a task is ready, ctx ends, or the queue closes.
func (q *JobQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			t := q.ready[0]
			q.ready[0] = nil
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				// Wake the next waiter; notify holds at most one token.
				q.signal()
			}
			q.mu.Unlock()
			return t, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Remove drops a queued or delayed task. It reports false when the task is
// not in the queue, e.g. because a worker already took it.
func (q *JobQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if timer, ok := q.delayed[jobID]; ok {
		timer.Stop()
		delete(q.delayed, jobID)
		return true
	}
	for i, t := range q.ready {
		if t.JobID == jobID {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			return true
		}
	}
	return false
}

// Depth counts ready and delayed tasks.
func (q *JobQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}

// Close stops delayed timers and wakes all blocked consumers. Ready tasks
// are dropped; their job rows stay non-terminal for recovery.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for id, timer := range q.delayed {
		timer.Stop()
		delete(q.delayed, id)
	}
	q.ready = nil
	close(q.done)
}

// Backoff returns base * 2^(attempt-1), capped at max when max > 0.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
