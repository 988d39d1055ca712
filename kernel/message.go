package kernel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the messaging protocol version stamped on outgoing headers.
const ProtocolVersion = "5.3"

// MsgType identifies the kind of a kernel message.
type MsgType string

// Message types.
const (
	MsgStatus            MsgType = "status"
	MsgExecuteRequest    MsgType = "execute_request"
	MsgExecuteInput      MsgType = "execute_input"
	MsgExecuteResult     MsgType = "execute_result"
	MsgExecuteReply      MsgType = "execute_reply"
	MsgStream            MsgType = "stream"
	MsgError             MsgType = "error"
	MsgInputRequest      MsgType = "input_request"
	MsgKernelInfoRequest MsgType = "kernel_info_request"
	MsgKernelInfoReply   MsgType = "kernel_info_reply"
	MsgShutdownRequest   MsgType = "shutdown_request"
	MsgShutdownReply     MsgType = "shutdown_reply"
)

// Channel names a kernel socket.
type Channel string

// Kernel channels.
const (
	ChannelIOPub   Channel = "iopub"
	ChannelShell   Channel = "shell"
	ChannelStdin   Channel = "stdin"
	ChannelControl Channel = "control"
)

// OutputChannels are the channels that carry asynchronous output for
// submitted code: results and status on iopub, replies on shell and input
// prompts on stdin.
func OutputChannels() []Channel {
	return []Channel{ChannelIOPub, ChannelShell, ChannelStdin}
}

// Header identifies a message.
type Header struct {
	MsgID    string  `json:"msg_id,omitempty"`
	MsgType  MsgType `json:"msg_type,omitempty"`
	Session  string  `json:"session,omitempty"`
	Username string  `json:"username,omitempty"`
	Date     string  `json:"date,omitempty"`
	Version  string  `json:"version,omitempty"`
}

// Message is a kernel message. Messages emitted by a kernel are treated as
// immutable values.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	Channel      Channel         `json:"channel,omitempty"`
}

// NewMessage builds a message with a fresh time-ordered id.
func NewMessage(msgType MsgType, content any) (Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	raw := json.RawMessage("{}")
	if content != nil {
		raw, err = json.Marshal(content)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s content: %w", msgType, err)
		}
	}

	return Message{
		Header: Header{
			MsgID:   id.String(),
			MsgType: msgType,
			Date:    time.Now().UTC().Format(time.RFC3339Nano),
			Version: ProtocolVersion,
		},
		Content: raw,
	}, nil
}

// MustMessage is like NewMessage but panics on error.
// Use only with content known to marshal (e.g., in tests and mocks).
func MustMessage(msgType MsgType, content any) Message {
	msg, err := NewMessage(msgType, content)
	if err != nil {
		panic(fmt.Sprintf("kernel.MustMessage(%q): %v", msgType, err))
	}
	return msg
}

// NewID returns a fresh message id suitable as a correlation id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Type returns the message type.
func (m Message) Type() MsgType {
	return m.Header.MsgType
}

// ID returns the message's own id.
func (m Message) ID() string {
	return m.Header.MsgID
}

// CorrelationID returns the id of the request that produced this message.
func (m Message) CorrelationID() string {
	return m.ParentHeader.MsgID
}

// InReplyTo returns a copy of m whose parent is the given request id.
func (m Message) InReplyTo(parentID string) Message {
	m.ParentHeader = Header{MsgID: parentID}
	return m
}

// On returns a copy of m tagged with the given channel.
func (m Message) On(ch Channel) Message {
	m.Channel = ch
	return m
}

// IsContent reports whether m carries output for its request:
// an execute result, stream output, or an error.
func (m Message) IsContent() bool {
	switch m.Type() {
	case MsgExecuteResult, MsgStream, MsgError:
		return true
	}
	return false
}

// IsIdle reports whether m is a status message announcing the kernel went
// idle after its request. Only the execution_state field is consulted.
func (m Message) IsIdle() bool {
	if m.Type() != MsgStatus {
		return false
	}
	var st StatusContent
	if err := json.Unmarshal(m.Content, &st); err != nil {
		return false
	}
	return st.ExecutionState == StateIdle
}
