package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/kernelmux/queue"
)

// MockClient is a test double for Client.
// Tests inject kernel output with Emit or a responder and inspect the
// submitted requests with Executed.
type MockClient struct {
	mu            sync.Mutex
	id            string
	channels      map[Channel]*queue.Queue[Message]
	executed      []ExecuteRequest
	executeErr    error
	shutdownErr   error
	shutdownCalls int
	responder     func(req ExecuteRequest) []Message
}

// NewMockClient creates a mock kernel exposing the output channels.
func NewMockClient(id string) *MockClient {
	m := &MockClient{
		id:       id,
		channels: make(map[Channel]*queue.Queue[Message]),
	}
	for _, ch := range OutputChannels() {
		m.channels[ch] = queue.New[Message]()
	}
	return m
}

// WithExecuteError makes every Execute call fail with err.
func (m *MockClient) WithExecuteError(err error) *MockClient {
	m.executeErr = err
	return m
}

// WithShutdownError makes Shutdown return err after stopping the mock.
func (m *MockClient) WithShutdownError(err error) *MockClient {
	m.shutdownErr = err
	return m
}

// WithResponder sets a function producing the kernel's output for each
// executed request. The messages are emitted before Execute returns.
func (m *MockClient) WithResponder(fn func(req ExecuteRequest) []Message) *MockClient {
	m.responder = fn
	return m
}

// ID implements Client.
func (m *MockClient) ID() string {
	return m.id
}

// Channels implements Client.
func (m *MockClient) Channels() []Channel {
	return OutputChannels()
}

// Execute implements Client.
func (m *MockClient) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.MsgID == "" {
		req.MsgID = NewID()
	}

	m.mu.Lock()
	m.executed = append(m.executed, req)
	err := m.executeErr
	responder := m.responder
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if responder != nil {
		for _, msg := range responder(req) {
			m.Emit(msg)
		}
	}
	return req.MsgID, nil
}

// Receive implements Client.
func (m *MockClient) Receive(ctx context.Context, ch Channel) (Message, error) {
	q, ok := m.channels[ch]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	msg, err := q.Next(ctx)
	if errors.Is(err, queue.ErrStopped) {
		return Message{}, ErrClosed
	}
	return msg, err
}

// Shutdown implements Client.
func (m *MockClient) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdownCalls++
	err := m.shutdownErr
	m.mu.Unlock()

	m.Fail()
	return err
}

// Emit delivers msg on its channel, defaulting to iopub.
// Messages emitted after Shutdown or Fail are dropped.
func (m *MockClient) Emit(msg Message) {
	ch := msg.Channel
	if ch == "" {
		ch = ChannelIOPub
	}
	if q, ok := m.channels[ch]; ok {
		_ = q.PutNowait(msg.On(ch))
	}
}

// Fail simulates the kernel dying: every pending and later Receive returns
// ErrClosed once queued messages are drained.
func (m *MockClient) Fail() {
	for _, q := range m.channels {
		q.Stop()
	}
}

// Executed returns the requests submitted so far.
func (m *MockClient) Executed() []ExecuteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecuteRequest, len(m.executed))
	copy(out, m.executed)
	return out
}

// ShutdownCalls returns how many times Shutdown was called.
func (m *MockClient) ShutdownCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownCalls
}

// EchoResponder replies to every request the way an interpreter evaluating
// an expression would: busy, execute_input, an execute_result whose
// text/plain is the submitted code, the shell execute_reply, then idle.
func EchoResponder(req ExecuteRequest) []Message {
	return []Message{
		MustMessage(MsgStatus, StatusContent{ExecutionState: StateBusy}).InReplyTo(req.MsgID).On(ChannelIOPub),
		MustMessage(MsgExecuteInput, ExecuteInputContent{Code: req.Code, ExecutionCount: 1}).InReplyTo(req.MsgID).On(ChannelIOPub),
		MustMessage(MsgExecuteResult, ExecuteResultContent{
			ExecutionCount: 1,
			Data:           map[string]any{"text/plain": req.Code},
		}).InReplyTo(req.MsgID).On(ChannelIOPub),
		MustMessage(MsgExecuteReply, ExecuteReplyContent{Status: "ok", ExecutionCount: 1}).InReplyTo(req.MsgID).On(ChannelShell),
		MustMessage(MsgStatus, StatusContent{ExecutionState: StateIdle}).InReplyTo(req.MsgID).On(ChannelIOPub),
	}
}

// MockProvisioner is a test double for Provisioner.
type MockProvisioner struct {
	mu         sync.Mutex
	clients    []*MockClient
	startErr   error
	startDelay time.Duration
	newClient  func(id string) *MockClient
}

// NewMockProvisioner creates a provisioner handing out fresh MockClients.
func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{newClient: NewMockClient}
}

// WithStartError makes every Start call fail with err.
func (p *MockProvisioner) WithStartError(err error) *MockProvisioner {
	p.startErr = err
	return p
}

// WithStartDelay makes Start take at least d.
func (p *MockProvisioner) WithStartDelay(d time.Duration) *MockProvisioner {
	p.startDelay = d
	return p
}

// WithClientFunc customizes the clients handed out by Start.
func (p *MockProvisioner) WithClientFunc(fn func(id string) *MockClient) *MockProvisioner {
	p.newClient = fn
	return p
}

// Start implements Provisioner.
func (p *MockProvisioner) Start(ctx context.Context) (Client, error) {
	if p.startDelay > 0 {
		select {
		case <-time.After(p.startDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return nil, p.startErr
	}
	c := p.newClient(fmt.Sprintf("kernel-%d", len(p.clients)+1))
	p.clients = append(p.clients, c)
	return c, nil
}

// Clients returns every client started so far, in start order.
func (p *MockProvisioner) Clients() []*MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockClient, len(p.clients))
	copy(out, p.clients)
	return out
}

// Starts returns how many kernels were started.
func (p *MockProvisioner) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
