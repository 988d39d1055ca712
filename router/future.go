package router

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/queue"
)

// Future is a single-result waiter.
type Future struct {
	id     string
	router *Router
	done   chan struct{}
	once   sync.Once
	msg    *kernel.Message
	err    error
}

func newFuture(id string, r *Router) *Future {
	return &Future{id: id, router: r, done: make(chan struct{})}
}

// ID returns the correlation id.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves. The message is nil when the kernel
// went idle without producing content. If ctx ends first the waiter is
// removed from the router and ctx's error returned.
func (f *Future) Wait(ctx context.Context) (*kernel.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		f.router.remove(f.id, waiter{future: f})
		// The dispatcher may have won the race.
		select {
		case <-f.done:
			return f.msg, f.err
		default:
		}
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(msg *kernel.Message, err error) {
	f.once.Do(func() {
		f.msg = msg
		f.err = err
		close(f.done)
	})
}

// Stream is a streaming waiter. It yields every content message for its
// correlation id until the kernel reports idle.
type Stream struct {
	id     string
	router *Router
	q      *queue.Queue[kernel.Message]

	mu  sync.Mutex
	err error
}

func newStream(id string, r *Router) *Stream {
	return &Stream{id: id, router: r, q: queue.New[kernel.Message]()}
}

// ID returns the correlation id.
func (s *Stream) ID() string {
	return s.id
}

// Next returns the next content message. It returns io.EOF after the kernel
// went idle, ErrCanceled if the router gave up on the request, and ctx's
// error if ctx ends first. A stream abandoned on timeout stays registered
// until Close.
func (s *Stream) Next(ctx context.Context) (kernel.Message, error) {
	msg, err := s.q.Next(ctx)
	if errors.Is(err, queue.ErrStopped) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return kernel.Message{}, s.err
		}
		return kernel.Message{}, io.EOF
	}
	return msg, err
}

// All iterates the content messages. Check Err after the loop to tell a
// completed request from a cancelled one.
func (s *Stream) All(ctx context.Context) iter.Seq[kernel.Message] {
	return func(yield func(kernel.Message) bool) {
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Err returns ErrCanceled if the stream was ended by the router rather
// than by the kernel going idle.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the stream. Messages already received stay readable.
func (s *Stream) Close() {
	s.router.remove(s.id, waiter{stream: s})
	s.q.Stop()
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.q.Stop()
}
