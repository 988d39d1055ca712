package queue

import (
	"context"
	"iter"
	"sync"

	ring "github.com/eapache/queue"
)

// Queue is an unbounded FIFO queue that can be stopped once.
// Producers may call Put concurrently. A single consumer drains it with
// Next or All.
type Queue[T any] struct {
	mu      sync.Mutex
	items   *ring.Queue
	ready   chan struct{} // holds a token while the consumer should re-check
	stopped bool
	lenient bool
}

// New creates a strict queue: Put after Stop returns ErrStopped.
func New[T any]() *Queue[T] {
	return newQueue[T](false)
}

// NewFanIn creates a lenient queue: Put after Stop silently drops the item.
func NewFanIn[T any]() *Queue[T] {
	return newQueue[T](true)
}

func newQueue[T any](lenient bool) *Queue[T] {
	return &Queue[T]{
		items:   ring.New(),
		ready:   make(chan struct{}, 1),
		lenient: lenient,
	}
}

// Put enqueues item. The queue is unbounded, so Put never waits for
// capacity; it only refuses to enqueue when ctx is already done.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.PutNowait(item)
}

// PutNowait enqueues item without blocking.
func (q *Queue[T]) PutNowait(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		if q.lenient {
			return nil
		}
		return ErrStopped
	}
	q.items.Add(item)
	q.notify()
	return nil
}

// Stop marks the queue stopped. Items already enqueued are still delivered.
// Stop is idempotent.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.notify()
}

// Next returns the next item, blocking until one is available.
// It returns ErrStopped once the queue is stopped and drained, and the
// context error if ctx is done first.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			item, _ := q.items.Remove().(T)
			if q.items.Length() > 0 || q.stopped {
				q.notify()
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.stopped {
			q.notify()
			q.mu.Unlock()
			return zero, ErrStopped
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// All returns a sequence over the remaining items. The sequence ends when
// the queue is stopped and drained or ctx is done.
func (q *Queue[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, err := q.Next(ctx)
			if err != nil {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Len returns the number of items waiting to be consumed.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Stopped reports whether Stop has been called.
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// notify leaves a wake-up token for the consumer. Caller holds mu.
func (q *Queue[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
