package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

var (
	// ErrOutOfOrder is returned when a tick is older than the last pushed tick.
	ErrOutOfOrder = errors.New("tick out of order")

	// ErrQueueClosed is returned when pushing to a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithRestamp stamps every pushed tick with the queue clock, discarding the
// producer's time. Used for live sources whose clocks are not trusted.
func WithRestamp() QueueOption {
	return func(q *Queue) { q.restamp = true }
}

// Queue is a bounded multi-producer, single-consumer tick queue that keeps
// pushed ticks ordered by time.
type Queue struct {
	clock   quartz.Clock
	ch      chan Tick
	done    chan struct{}
	restamp bool

	mu     sync.Mutex
	last   time.Time
	closed bool
	once   sync.Once
}

// NewQueue creates a queue with the given capacity.
func NewQueue(clock quartz.Clock, size int, opts ...QueueOption) *Queue {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{
		clock: clock,
		ch:    make(chan Tick, size),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push enqueues a tick, blocking while the queue is full. Ticks without a
// time are stamped with the queue clock.
func (q *Queue) Push(ctx context.Context, t Tick) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.admitLocked(t)
	if err != nil {
		return err
	}

	select {
	case q.ch <- t:
		q.last = t.At
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues a tick without blocking. It reports false when the queue
// is full.
func (q *Queue) TryPush(t Tick) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.admitLocked(t)
	if err != nil {
		return false, err
	}

	select {
	case q.ch <- t:
		q.last = t.At
		return true, nil
	default:
		return false, nil
	}
}

func (q *Queue) admitLocked(t Tick) (Tick, error) {
	if q.closed {
		return t, ErrQueueClosed
	}
	if q.restamp || t.At.IsZero() {
		t.At = q.clock.Now()
	}
	if !q.last.IsZero() && t.At.Before(q.last) {
		if !q.restamp {
			return t, fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
				t.At.Format(time.RFC3339Nano), q.last.Format(time.RFC3339Nano))
		}
		// A restamping queue never moves backwards even if the clock does.
		t.At = q.last
	}
	return t, nil
}

// Ticks returns the receive side for the single consumer. The channel is
// closed by Close.
func (q *Queue) Ticks() <-chan Tick {
	return q.ch
}

// Len returns the number of queued ticks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops accepting ticks. Ticks already queued remain readable.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
