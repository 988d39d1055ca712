package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/kernelmux/queue"
)

// Transport moves whole messages to and from a kernel.
// ReadMessage is only called from one goroutine; WriteMessage may be called
// concurrently and must serialize writes itself.
type Transport interface {
	ReadMessage() (Message, error)
	WriteMessage(msg Message) error
	Close() error
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used for dropped and malformed messages.
func WithLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) { c.logger = l }
}

// WithChannels sets the channels exposed to Receive.
// Default: OutputChannels().
func WithChannels(chs ...Channel) ConnOption {
	return func(c *Conn) { c.channelNames = chs }
}

// Conn is the client side of a kernel connection over a Transport.
//
// A single read loop demultiplexes incoming messages: replies to requests
// made through Request go to their waiting caller, everything else is
// queued per channel for Receive. When the transport fails every queue is
// stopped and Receive reports ErrClosed.
type Conn struct {
	id           string
	session      string
	transport    Transport
	logger       *slog.Logger
	channelNames []Channel
	channels     map[Channel]*queue.Queue[Message]

	mu      sync.Mutex
	pending map[string]chan Message
	closed  bool
	err     error
	done    chan struct{}

	closeOnce sync.Once
}

// NewConn wraps transport and starts reading from it.
func NewConn(id string, transport Transport, opts ...ConnOption) *Conn {
	c := &Conn{
		id:           id,
		session:      uuid.NewString(),
		transport:    transport,
		logger:       slog.Default(),
		channelNames: OutputChannels(),
		pending:      make(map[string]chan Message),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.channels = make(map[Channel]*queue.Queue[Message], len(c.channelNames))
	for _, ch := range c.channelNames {
		c.channels[ch] = queue.New[Message]()
	}

	go c.readLoop()
	return c
}

// ID implements Client.
func (c *Conn) ID() string {
	return c.id
}

// Channels implements Client.
func (c *Conn) Channels() []Channel {
	out := make([]Channel, len(c.channelNames))
	copy(out, c.channelNames)
	return out
}

// Execute implements Client.
func (c *Conn) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.MsgID == "" {
		req.MsgID = NewID()
	}

	msg, err := req.Message()
	if err != nil {
		return "", err
	}
	if err := c.send(msg); err != nil {
		return "", err
	}
	return req.MsgID, nil
}

// Receive implements Client.
func (c *Conn) Receive(ctx context.Context, ch Channel) (Message, error) {
	q, ok := c.channels[ch]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	msg, err := q.Next(ctx)
	if errors.Is(err, queue.ErrStopped) {
		return Message{}, c.closedErr()
	}
	return msg, err
}

// Request sends a message of msgType on ch and waits for the matching
// *_reply message.
func (c *Conn) Request(ctx context.Context, ch Channel, msgType MsgType, content any) (Message, error) {
	msg, err := NewMessage(msgType, content)
	if err != nil {
		return Message{}, err
	}
	msg = msg.On(ch)

	reply := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, c.closedErr()
	}
	c.pending[msg.ID()] = reply
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.forget(msg.ID())
		return Message{}, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return Message{}, c.closedErr()
		}
		return r, nil
	case <-ctx.Done():
		c.forget(msg.ID())
		return Message{}, ctx.Err()
	}
}

// KernelInfo performs the kernel_info handshake.
func (c *Conn) KernelInfo(ctx context.Context) (*KernelInfoReplyContent, error) {
	reply, err := c.Request(ctx, ChannelShell, MsgKernelInfoRequest, struct{}{})
	if err != nil {
		return nil, err
	}
	var info KernelInfoReplyContent
	if err := decodeRaw(reply, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RequestShutdown sends a shutdown_request on the control channel and waits
// for the kernel to acknowledge it.
func (c *Conn) RequestShutdown(ctx context.Context) error {
	_, err := c.Request(ctx, ChannelControl, MsgShutdownRequest, ShutdownContent{Type: MsgShutdownRequest})
	return err
}

// Shutdown implements Client for kernels with no local process to reap:
// it requests shutdown, closes the transport and waits for the read loop.
// A kernel that is already gone counts as shut down.
func (c *Conn) Shutdown(ctx context.Context) error {
	err := c.RequestShutdown(ctx)
	if IsClosed(err) {
		err = nil
	}
	if cerr := c.Close(); err == nil {
		err = cerr
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Close closes the transport. The read loop ends once the transport
// reports the closure; Done is closed at that point.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
	})
	return err
}

// Done is closed when the read loop has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the read loop, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) send(msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return c.closedErr()
	}

	msg.Header.Session = c.session
	if err := c.transport.WriteMessage(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type(), err)
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		if c.deliverReply(msg) {
			continue
		}

		q, ok := c.channels[msg.Channel]
		if !ok {
			c.logger.Debug("dropping message on unwatched channel",
				slog.String("kernel", c.id),
				slog.String("channel", string(msg.Channel)),
				slog.String("type", string(msg.Type())))
			continue
		}
		_ = q.PutNowait(msg)
	}
}

// deliverReply hands msg to a pending Request if it answers one.
func (c *Conn) deliverReply(msg Message) bool {
	if !strings.HasSuffix(string(msg.Type()), "_reply") {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reply, ok := c.pending[msg.CorrelationID()]
	if !ok {
		return false
	}
	delete(c.pending, msg.CorrelationID())
	reply <- msg
	return true
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.err = err
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, q := range c.channels {
		q.Stop()
	}
	close(c.done)

	c.logger.Debug("kernel connection closed",
		slog.String("kernel", c.id),
		slog.Any("error", err))
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) closedErr() error {
	c.mu.Lock()
	cause := c.err
	c.mu.Unlock()

	if cause == nil || errors.Is(cause, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, cause)
}
