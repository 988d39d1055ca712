package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/queue"
	"github.com/randalmurphal/kernelmux/session"
)

// Source is the aggregate message stream a Router drains.
// *session.Manager satisfies it.
type Source interface {
	// Queue returns the current generation's queue.
	Queue() *queue.Queue[kernel.Message]

	// Generation returns the current generation number.
	Generation() uint64

	// Closed reports whether no further generation will follow.
	Closed() bool
}

// Executor submits code to a named session.
// *session.Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, name, code string, opts ...session.ExecuteOption) (string, error)
}

// generationExecutor is an Executor that reports which generation the
// receiving session belongs to. *session.Manager satisfies it.
type generationExecutor interface {
	ExecuteInGeneration(ctx context.Context, name, code string, opts ...session.ExecuteOption) (string, uint64, error)
}

// pendingGeneration marks a request whose session generation is not known
// yet. cancelBefore never matches it.
const pendingGeneration = math.MaxUint64

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger for dropped messages and cancellations.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// waiter is one correlation table entry; exactly one of future and stream
// is set.
type waiter struct {
	future     *Future
	stream     *Stream
	generation uint64
}

func (w waiter) same(o waiter) bool {
	return w.future == o.future && w.stream == o.stream
}

func (w waiter) cancel() {
	if w.future != nil {
		w.future.resolve(nil, ErrCanceled)
	}
	if w.stream != nil {
		w.stream.finish(ErrCanceled)
	}
}

// Router routes messages to waiters keyed by correlation id.
type Router struct {
	source Source
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]waiter
	closed  bool
	// Generations below this have ended.
	endedBelow uint64

	callbacks sync.WaitGroup

	routed  atomic.Int64
	dropped atomic.Int64
}

// New creates a router over source. Call Run to start routing.
func New(source Source, opts ...Option) *Router {
	r := &Router{
		source:  source,
		logger:  slog.Default(),
		waiters: make(map[string]waiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Expect registers a single-result waiter for id in the source's current
// generation.
func (r *Router) Expect(id string) (*Future, error) {
	return r.expect(id, r.source.Generation())
}

func (r *Router) expect(id string, gen uint64) (*Future, error) {
	f := newFuture(id, r)
	if err := r.register(id, waiter{future: f, generation: gen}); err != nil {
		return nil, err
	}
	return f, nil
}

// Stream registers a streaming waiter for id in the source's current
// generation.
func (r *Router) Stream(id string) (*Stream, error) {
	return r.stream(id, r.source.Generation())
}

func (r *Router) stream(id string, gen uint64) (*Stream, error) {
	s := newStream(id, r)
	if err := r.register(id, waiter{stream: s, generation: gen}); err != nil {
		return nil, err
	}
	return s, nil
}

// OnResult registers a single-result waiter for id and calls fn with its
// outcome from a separate goroutine. Shutdown waits for pending callbacks.
func (r *Router) OnResult(id string, fn func(msg *kernel.Message, err error)) error {
	f, err := r.Expect(id)
	if err != nil {
		return err
	}

	r.callbacks.Add(1)
	go func() {
		defer r.callbacks.Done()
		<-f.Done()
		fn(f.msg, f.err)
	}()
	return nil
}

// Request submits code to the named session and returns a future for its
// first content message.
//
// If exec reports session generations, the request is cancelled only when
// the generation of the session that received it ends. Otherwise it belongs
// to the source's generation at the time of the call.
func (r *Router) Request(ctx context.Context, exec Executor, name, code string, opts ...session.ExecuteOption) (*Future, error) {
	id := kernel.NewID()
	f, err := r.expect(id, r.initialGeneration(exec))
	if err != nil {
		return nil, err
	}
	w := waiter{future: f}
	gen, err := r.submit(ctx, exec, name, code, id, opts)
	if err != nil {
		r.remove(id, w)
		return nil, err
	}
	r.stamp(id, w, gen)
	return f, nil
}

// RequestStream submits code to the named session and returns a stream of
// all its content messages. Cancellation follows the same rules as Request.
func (r *Router) RequestStream(ctx context.Context, exec Executor, name, code string, opts ...session.ExecuteOption) (*Stream, error) {
	id := kernel.NewID()
	s, err := r.stream(id, r.initialGeneration(exec))
	if err != nil {
		return nil, err
	}
	w := waiter{stream: s}
	gen, err := r.submit(ctx, exec, name, code, id, opts)
	if err != nil {
		r.remove(id, w)
		return nil, err
	}
	r.stamp(id, w, gen)
	return s, nil
}

func (r *Router) initialGeneration(exec Executor) uint64 {
	if _, ok := exec.(generationExecutor); ok {
		return pendingGeneration
	}
	return r.source.Generation()
}

// submit executes code with id as the request id and returns the generation
// of the receiving session, or pendingGeneration if exec does not report it.
func (r *Router) submit(ctx context.Context, exec Executor, name, code, id string, opts []session.ExecuteOption) (uint64, error) {
	all := make([]session.ExecuteOption, 0, len(opts)+1)
	all = append(all, opts...)
	all = append(all, session.WithMsgID(id))

	var (
		got string
		gen uint64 = pendingGeneration
		err error
	)
	if ge, ok := exec.(generationExecutor); ok {
		got, gen, err = ge.ExecuteInGeneration(ctx, name, code, all...)
	} else {
		got, err = exec.Execute(ctx, name, code, all...)
	}
	if err != nil {
		return 0, err
	}
	if got != id {
		return 0, fmt.Errorf("session %s answered with request id %q, expected %q", name, got, id)
	}
	return gen, nil
}

// stamp moves a pending waiter into generation gen, cancelling it at once if
// that generation has already ended.
func (r *Router) stamp(id string, w waiter, gen uint64) {
	if gen == pendingGeneration {
		return
	}

	r.mu.Lock()
	cur, ok := r.waiters[id]
	if !ok || !cur.same(w) {
		// Already resolved or cancelled.
		r.mu.Unlock()
		return
	}
	if gen < r.endedBelow {
		delete(r.waiters, id)
		r.mu.Unlock()
		cur.cancel()
		r.logger.Debug("cancelled request sent to an ended generation",
			slog.String("msg_id", id),
			slog.Uint64("generation", gen))
		return
	}
	cur.generation = gen
	r.waiters[id] = cur
	r.mu.Unlock()
}

// Forget removes whatever waiter is registered for id without resolving it.
func (r *Router) Forget(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// Run routes messages until ctx is done or the source is closed. When a
// generation ends, waiters belonging to it are cancelled and routing
// continues with the next generation's queue. The router shuts down when
// Run returns.
func (r *Router) Run(ctx context.Context) error {
	for {
		q := r.source.Queue()
		for {
			msg, err := q.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					r.Shutdown()
					return ctx.Err()
				}
				break
			}
			r.Dispatch(msg)
		}

		if r.source.Closed() {
			r.Shutdown()
			return nil
		}
		r.cancelBefore(r.source.Generation())
		if r.source.Queue() == q {
			// A stopped queue that was not replaced: nothing more will come.
			r.Shutdown()
			return nil
		}
	}
}

// Dispatch routes one message. Content messages resolve a future or are
// appended to a stream; an idle status resolves a future with nil or ends a
// stream. Everything else, and any message for an unknown id, is dropped.
func (r *Router) Dispatch(msg kernel.Message) {
	isContent := msg.IsContent()
	isIdle := !isContent && msg.IsIdle()
	if !isContent && !isIdle {
		r.dropped.Add(1)
		return
	}

	id := msg.CorrelationID()
	r.mu.Lock()
	w, ok := r.waiters[id]
	if !ok {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Debug("dropping message for unknown request",
			slog.String("msg_id", id),
			slog.String("type", string(msg.Type())))
		return
	}

	switch {
	case w.future != nil:
		delete(r.waiters, id)
		r.mu.Unlock()
		if isContent {
			w.future.resolve(&msg, nil)
		} else {
			w.future.resolve(nil, nil)
		}
	case isIdle:
		delete(r.waiters, id)
		r.mu.Unlock()
		w.stream.finish(nil)
	default:
		// Closed streams reject the put; the caller is no longer reading.
		_ = w.stream.q.PutNowait(msg)
		r.mu.Unlock()
	}
	r.routed.Add(1)
}

// Shutdown cancels every pending waiter and rejects later registrations.
// It waits for OnResult callbacks to return.
func (r *Router) Shutdown() {
	r.mu.Lock()
	r.closed = true
	pending := r.waiters
	r.waiters = make(map[string]waiter)
	r.mu.Unlock()

	for _, w := range pending {
		w.cancel()
	}
	if len(pending) > 0 {
		r.logger.Debug("cancelled pending requests", slog.Int("count", len(pending)))
	}
	r.callbacks.Wait()
}

// Pending returns the number of registered waiters.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Routed returns the number of messages delivered to a waiter.
func (r *Router) Routed() int64 {
	return r.routed.Load()
}

// Dropped returns the number of messages that matched no waiter.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Router) register(id string, w waiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, exists := r.waiters[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWaiter, id)
	}
	r.waiters[id] = w
	return nil
}

func (r *Router) remove(id string, w waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.waiters[id]; ok && cur.same(w) {
		delete(r.waiters, id)
	}
}

// cancelBefore cancels waiters of generations before gen.
func (r *Router) cancelBefore(gen uint64) {
	r.mu.Lock()
	if gen > r.endedBelow {
		r.endedBelow = gen
	}
	var stale []waiter
	for id, w := range r.waiters {
		if w.generation < gen {
			stale = append(stale, w)
			delete(r.waiters, id)
		}
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.cancel()
	}
}
