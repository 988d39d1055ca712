package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/kernelmux/kernel"
	"github.com/randalmurphal/kernelmux/queue"
)

// Manager owns named sessions and the shared queue their output is merged
// into. All methods are safe for concurrent use.
type Manager struct {
	provisioner kernel.Provisioner
	config      managerConfig
	logger      *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	queue      *queue.Queue[kernel.Message]
	generation uint64
	closed     bool

	starts singleflight.Group

	stopClean chan struct{}
	cleanOnce sync.Once
}

// NewManager creates a manager that starts kernels with provisioner.
func NewManager(provisioner kernel.Provisioner, opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		provisioner: provisioner,
		config:      cfg,
		logger:      cfg.logger,
		sessions:    make(map[string]*Session),
		queue:       queue.NewFanIn[kernel.Message](),
		stopClean:   make(chan struct{}),
	}

	if cfg.sessionTTL > 0 && cfg.cleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// StartSession starts a kernel and registers it under name. If a session
// with that name exists it is returned unchanged. Concurrent calls for the
// same name share a single kernel start.
//
// The shared start does not end when ctx does: a caller whose ctx is done
// returns ctx.Err() while the start carries on for the others, bounded by
// the backend's startup timeout.
func (m *Manager) StartSession(ctx context.Context, name string) (*Session, error) {
	if s, err := m.lookupForStart(name); s != nil || err != nil {
		return s, err
	}

	ch := m.starts.DoChan(name, func() (any, error) {
		return m.startSession(context.WithoutCancel(ctx), name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) lookupForStart(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[name]; ok {
		return s, nil
	}
	if len(m.sessions) >= m.config.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, m.config.maxSessions)
	}
	return nil, nil
}

func (m *Manager) startSession(ctx context.Context, name string) (*Session, error) {
	// Another caller may have finished registering name while we queued.
	if s, err := m.lookupForStart(name); s != nil || err != nil {
		return s, err
	}

	client, err := m.provisioner.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start kernel for session %s: %w", name, err)
	}

	m.mu.Lock()
	var rejectErr error
	switch {
	case m.closed:
		rejectErr = ErrManagerClosed
	case len(m.sessions) >= m.config.maxSessions:
		rejectErr = fmt.Errorf("%w (%d)", ErrMaxSessions, m.config.maxSessions)
	}
	if rejectErr != nil {
		m.mu.Unlock()
		_ = client.Shutdown(ctx) // best effort
		return nil, rejectErr
	}

	s := newSession(name, client, m.queue, m.generation, m.logger)
	m.sessions[name] = s
	generation := m.generation
	m.mu.Unlock()

	m.logger.Debug("session started",
		slog.String("session", name),
		slog.String("kernel", client.ID()),
		slog.Uint64("generation", generation))
	return s, nil
}

// StopSession shuts down the named session. The session is removed even if
// its shutdown fails; the shutdown error is still returned. Stopping an
// unknown name is a no-op.
func (m *Manager) StopSession(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop session %s: %w", name, err)
	}
	return nil
}

// Execute submits code to the named session and returns the correlation id.
// Returns ErrSessionNotFound without contacting any kernel if name is unknown.
func (m *Manager) Execute(ctx context.Context, name, code string, opts ...ExecuteOption) (string, error) {
	id, _, err := m.ExecuteInGeneration(ctx, name, code, opts...)
	return id, err
}

// ExecuteInGeneration is Execute that also reports the generation of the
// session the request went to. Its output reaches that generation's queue.
func (m *Manager) ExecuteInGeneration(ctx context.Context, name, code string, opts ...ExecuteOption) (string, uint64, error) {
	s, ok := m.Session(name)
	if !ok {
		return "", 0, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	id, err := s.Execute(ctx, code, opts...)
	return id, s.Generation(), err
}

// StopAll shuts down every session and starts a new generation: the current
// queue is stopped and a fresh one installed for sessions started later.
// Messages still in flight from the old sessions are dropped.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	sessions := m.detachLocked(true)
	generation := m.generation
	m.mu.Unlock()

	m.logger.Debug("session manager reset",
		slog.Int("sessions", len(sessions)),
		slog.Uint64("generation", generation))
	return shutdownAll(ctx, sessions)
}

// Close shuts down every session and stops the queue without starting a new
// generation. Later starts fail with ErrManagerClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.cleanOnce.Do(func() { close(m.stopClean) })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.detachLocked(false)
	m.mu.Unlock()

	return shutdownAll(ctx, sessions)
}

// detachLocked empties the mapping and ends the current generation.
// Caller holds mu.
func (m *Manager) detachLocked(newGeneration bool) []*Session {
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)

	old := m.queue
	if newGeneration {
		m.queue = queue.NewFanIn[kernel.Message]()
		m.generation++
	}
	old.Stop()
	return sessions
}

func shutdownAll(ctx context.Context, sessions []*Session) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop session %s: %w", s.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Queue returns the current generation's queue.
func (m *Manager) Queue() *queue.Queue[kernel.Message] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue
}

// All iterates the messages of the current generation in arrival order.
// The sequence ends at the next StopAll or Close, or when ctx is done.
func (m *Manager) All(ctx context.Context) iter.Seq[kernel.Message] {
	return m.Queue().All(ctx)
}

// Generation returns the current generation number, starting at zero.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Session returns the named session.
func (m *Manager) Session(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// List returns the names of all registered sessions, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Info returns a snapshot of the named session.
func (m *Manager) Info(name string) (Info, bool) {
	s, ok := m.Session(name)
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// cleanupLoop periodically stops idle sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopClean:
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

// cleanupExpired stops sessions that have been idle longer than the TTL.
func (m *Manager) cleanupExpired() {
	cutoff := time.Now().Add(-m.config.sessionTTL)

	m.mu.Lock()
	var expired []*Session
	for name, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.reapTimeout)
		if err := s.Shutdown(ctx); err != nil {
			m.logger.Warn("failed to stop idle session",
				slog.String("session", s.Name()),
				slog.Any("error", err))
		} else {
			m.logger.Debug("stopped idle session", slog.String("session", s.Name()))
		}
		cancel()
	}
}
