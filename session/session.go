package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/queue"
)

// Session is one named kernel whose output is forwarded into a manager queue.
type Session struct {
	name       string
	client     kernel.Client
	out        *queue.Queue[kernel.Message]
	generation uint64
	logger     *slog.Logger
	createdAt  time.Time

	cancel    context.CancelFunc
	listeners *errgroup.Group

	status       atomic.Value // Status
	lastActivity atomic.Value // time.Time
	executions   atomic.Int64
	forwarded    atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
}

// newSession wraps client and starts one listener per kernel channel.
// Every message is forwarded into out, which belongs to generation.
func newSession(name string, client kernel.Client, out *queue.Queue[kernel.Message], generation uint64, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	s := &Session{
		name:       name,
		client:     client,
		out:        out,
		generation: generation,
		logger:     logger,
		createdAt:  time.Now(),
		cancel:     cancel,
		listeners:  g,
	}
	s.status.Store(StatusCreating)
	s.touch()

	for _, ch := range client.Channels() {
		g.Go(func() error {
			return s.listen(gctx, ch)
		})
	}
	s.status.CompareAndSwap(StatusCreating, StatusActive)
	return s
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// KernelID returns the id of the wrapped kernel.
func (s *Session) KernelID() string {
	return s.client.ID()
}

// Generation returns the manager generation the session belongs to.
func (s *Session) Generation() uint64 {
	return s.generation
}

// Status returns the current status.
func (s *Session) Status() Status {
	return s.status.Load().(Status)
}

// Execute submits code and returns its correlation id. Output arrives
// asynchronously on the manager's queue. Stdin prompts are always disabled.
func (s *Session) Execute(ctx context.Context, code string, opts ...ExecuteOption) (string, error) {
	switch s.Status() {
	case StatusClosing, StatusClosed:
		return "", fmt.Errorf("%w: %s", ErrSessionClosed, s.name)
	}

	req := kernel.ExecuteRequest{Code: code, StoreHistory: true}
	for _, opt := range opts {
		opt(&req)
	}
	req.AllowStdin = false

	id, err := s.client.Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("execute in session %s: %w", s.name, err)
	}

	s.executions.Add(1)
	s.touch()
	s.logger.Debug("code submitted",
		slog.String("session", s.name),
		slog.String("msg_id", id))
	return id, nil
}

// Shutdown cancels every listener, waits for all of them to return, then
// asks the kernel to shut down. It is idempotent; later calls return the
// first call's result.
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.status.Store(StatusClosing)
		s.cancel()
		// Listener failures were logged when they happened.
		_ = s.listeners.Wait()

		s.shutdownErr = s.client.Shutdown(ctx)
		s.status.Store(StatusClosed)
		s.logger.Debug("session shut down",
			slog.String("session", s.name),
			slog.String("kernel", s.client.ID()),
			slog.Any("error", s.shutdownErr))
	})
	return s.shutdownErr
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	return Info{
		Name:         s.name,
		KernelID:     s.client.ID(),
		Status:       s.Status(),
		Generation:   s.generation,
		CreatedAt:    s.createdAt,
		LastActivity: s.LastActivity(),
		Executions:   s.executions.Load(),
		Forwarded:    s.forwarded.Load(),
	}
}

// LastActivity returns when code was last submitted or output last received.
func (s *Session) LastActivity() time.Time {
	return s.lastActivity.Load().(time.Time)
}

// listen forwards messages from one kernel channel until ctx is cancelled
// or the kernel goes away. Cancellation is not an error.
func (s *Session) listen(ctx context.Context, ch kernel.Channel) error {
	for {
		msg, err := s.client.Receive(ctx, ch)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.status.CompareAndSwap(StatusActive, StatusError)
			s.logger.Warn("session listener stopped",
				slog.String("session", s.name),
				slog.String("channel", string(ch)),
				slog.Any("error", err))
			return fmt.Errorf("receive %s: %w", ch, err)
		}

		// The fan-in queue drops messages once its generation has ended.
		_ = s.out.PutNowait(msg)
		s.forwarded.Add(1)
		s.touch()
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now())
}
