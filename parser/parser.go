package parser

import (
	"strings"
)

// Fence delimits code blocks.
const Fence = "```"

// Message is a chat message split into prose and code.
type Message struct {
	// Raw is the original text.
	Raw string

	// Text is the prose outside code blocks, segments joined by newlines.
	Text string

	// CodeBlocks holds the content of each complete block in order,
	// with leading and trailing newlines trimmed.
	CodeBlocks []string
}

// HasCode reports whether the message contains at least one complete block.
func (m *Message) HasCode() bool {
	return len(m.CodeBlocks) > 0
}

// Code joins the blocks with a blank line, ready to execute as one cell.
func (m *Message) Code() string {
	return strings.Join(m.CodeBlocks, "\n\n")
}

// Parse splits text on fences. Odd segments are code. When the text has
// an odd number of fences the last segment is prose with a stray fence,
// so it is neither code nor dropped from Text.
func Parse(text string) *Message {
	msg := &Message{Raw: text}

	segments := strings.Split(text, Fence)
	complete := len(segments)
	if complete%2 == 0 {
		// Unterminated block.
		complete--
	}

	var prose []string
	for i, seg := range segments {
		seg = strings.Trim(seg, "\n")
		switch {
		case i%2 == 1 && i < complete:
			msg.CodeBlocks = append(msg.CodeBlocks, seg)
		case seg != "":
			prose = append(prose, seg)
		}
	}
	msg.Text = strings.Join(prose, "\n")
	return msg
}

// CodeBlocks returns the content of each complete code block in text.
func CodeBlocks(text string) []string {
	return Parse(text).CodeBlocks
}

// ExtractCode returns all code blocks in text joined by a blank line, or
// "" when there are none.
func ExtractCode(text string) string {
	return Parse(text).Code()
}
