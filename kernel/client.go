package kernel

import "context"

// Client is a running kernel instance.
//
// Execute only submits code; its output arrives later through Receive on the
// output channels, tagged with the returned correlation id. Implementations
// must be safe for concurrent use, with at most one Receive in flight per
// channel.
type Client interface {
	// ID returns the kernel's identifier.
	ID() string

	// Channels lists the channels Receive can be called with.
	Channels() []Channel

	// Execute submits code and returns the request's msg_id.
	Execute(ctx context.Context, req ExecuteRequest) (string, error)

	// Receive returns the next message from ch.
	// Returns an error wrapping ErrClosed once the kernel is gone.
	Receive(ctx context.Context, ch Channel) (Message, error)

	// Shutdown asks the kernel to terminate and waits for it to do so.
	Shutdown(ctx context.Context) error
}

// Provisioner starts kernel instances.
type Provisioner interface {
	Start(ctx context.Context) (Client, error)
}

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context) (Client, error)

// Start implements Provisioner.
func (f ProvisionerFunc) Start(ctx context.Context) (Client, error) {
	return f(ctx)
}

// ExecuteRequest is code submitted to a kernel.
type ExecuteRequest struct {
	// MsgID is the request id, echoed as the correlation id on every reply.
	// Generated when empty.
	MsgID string

	Code         string
	Silent       bool
	StoreHistory bool
	AllowStdin   bool
	StopOnError  bool
}

// executeRequestContent is the wire body of an execute_request.
type executeRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// Message builds the execute_request message for req on the shell channel.
func (req ExecuteRequest) Message() (Message, error) {
	msg, err := NewMessage(MsgExecuteRequest, executeRequestContent{
		Code:            req.Code,
		Silent:          req.Silent,
		StoreHistory:    req.StoreHistory,
		UserExpressions: map[string]any{},
		AllowStdin:      req.AllowStdin,
		StopOnError:     req.StopOnError,
	})
	if err != nil {
		return Message{}, err
	}
	if req.MsgID != "" {
		msg.Header.MsgID = req.MsgID
	}
	return msg.On(ChannelShell), nil
}

// ParseExecuteRequest decodes the code of an execute_request message.
func ParseExecuteRequest(msg Message) (ExecuteRequest, error) {
	var c executeRequestContent
	if err := decodeRaw(msg, &c); err != nil {
		return ExecuteRequest{}, err
	}
	return ExecuteRequest{
		MsgID:        msg.ID(),
		Code:         c.Code,
		Silent:       c.Silent,
		StoreHistory: c.StoreHistory,
		AllowStdin:   c.AllowStdin,
		StopOnError:  c.StopOnError,
	}, nil
}
