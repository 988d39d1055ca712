package kernel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the decoded body of a Message. It is always one of the
// *...Content types in this package; UnknownContent covers everything else.
type Content interface {
	MsgType() MsgType
}

// ExecutionState is the kernel state reported by status messages.
type ExecutionState string

// Execution states.
const (
	StateStarting ExecutionState = "starting"
	StateBusy     ExecutionState = "busy"
	StateIdle     ExecutionState = "idle"
)

// StatusContent reports a kernel state change.
type StatusContent struct {
	ExecutionState ExecutionState `json:"execution_state"`
}

// ExecuteInputContent echoes submitted code.
type ExecuteInputContent struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

// ExecuteResultContent carries the value of an executed expression.
type ExecuteResultContent struct {
	ExecutionCount int            `json:"execution_count"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Text returns the text/plain representation, if any.
func (c *ExecuteResultContent) Text() string {
	s, _ := c.Data["text/plain"].(string)
	return s
}

// ExecuteReplyContent is the shell reply to an execute request.
type ExecuteReplyContent struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	EName          string   `json:"ename,omitempty"`
	EValue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// StreamContent is output written to stdout or stderr.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorContent describes an exception raised by executed code.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// String returns the traceback, or "ename: evalue" when there is none.
func (c *ErrorContent) String() string {
	if len(c.Traceback) > 0 {
		return strings.Join(c.Traceback, "\n")
	}
	return c.EName + ": " + c.EValue
}

// InputRequestContent is a prompt for stdin input.
type InputRequestContent struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// KernelInfoReplyContent answers a kernel_info_request.
type KernelInfoReplyContent struct {
	Status                string `json:"status"`
	ProtocolVersion       string `json:"protocol_version"`
	Implementation        string `json:"implementation"`
	ImplementationVersion string `json:"implementation_version,omitempty"`
	Banner                string `json:"banner,omitempty"`
}

// ShutdownContent is the body of shutdown requests and replies.
// Type records which of the two was decoded; it is not sent.
type ShutdownContent struct {
	Type    MsgType `json:"-"`
	Status  string  `json:"status,omitempty"`
	Restart bool    `json:"restart"`
}

// UnknownContent is any message type without a dedicated variant.
type UnknownContent struct {
	Type MsgType
	Raw  json.RawMessage
}

func (*StatusContent) MsgType() MsgType          { return MsgStatus }
func (*ExecuteInputContent) MsgType() MsgType    { return MsgExecuteInput }
func (*ExecuteResultContent) MsgType() MsgType   { return MsgExecuteResult }
func (*ExecuteReplyContent) MsgType() MsgType    { return MsgExecuteReply }
func (*StreamContent) MsgType() MsgType          { return MsgStream }
func (*ErrorContent) MsgType() MsgType           { return MsgError }
func (*InputRequestContent) MsgType() MsgType    { return MsgInputRequest }
func (*KernelInfoReplyContent) MsgType() MsgType { return MsgKernelInfoReply }
func (c *UnknownContent) MsgType() MsgType       { return c.Type }

func (c *ShutdownContent) MsgType() MsgType {
	if c.Type == "" {
		return MsgShutdownReply
	}
	return c.Type
}

// Decode parses the message content into its typed variant.
func (m Message) Decode() (Content, error) {
	var c Content
	switch m.Type() {
	case MsgStatus:
		c = &StatusContent{}
	case MsgExecuteInput:
		c = &ExecuteInputContent{}
	case MsgExecuteResult:
		c = &ExecuteResultContent{}
	case MsgExecuteReply:
		c = &ExecuteReplyContent{}
	case MsgStream:
		c = &StreamContent{}
	case MsgError:
		c = &ErrorContent{}
	case MsgInputRequest:
		c = &InputRequestContent{}
	case MsgKernelInfoReply:
		c = &KernelInfoReplyContent{}
	case MsgShutdownRequest, MsgShutdownReply:
		c = &ShutdownContent{Type: m.Type()}
	default:
		return &UnknownContent{Type: m.Type(), Raw: m.Content}, nil
	}

	if err := decodeRaw(m, c); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeRaw(m Message, v any) error {
	if len(m.Content) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", m.Type(), err)
	}
	return nil
}
