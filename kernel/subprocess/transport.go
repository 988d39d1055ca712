package subprocess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/randalmurphal/kernelmux/kernel"
)

// lineTransport carries kernel messages as JSON lines.
type lineTransport struct {
	reader  *bufio.Reader
	writer  io.WriteCloser
	writeMu sync.Mutex // Protects writer
	logger  *slog.Logger
}

func newLineTransport(r io.Reader, w io.WriteCloser, logger *slog.Logger) *lineTransport {
	return &lineTransport{
		reader: bufio.NewReader(r),
		writer: w,
		logger: logger,
	}
}

// ReadMessage reads the next message. Blank and malformed lines are skipped.
func (t *lineTransport) ReadMessage() (kernel.Message, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var msg kernel.Message
			if jerr := json.Unmarshal(line, &msg); jerr != nil {
				t.logger.Debug("skipping malformed kernel output",
					slog.String("line", string(line)),
					slog.Any("error", jerr))
			} else {
				return msg, nil
			}
		}
		if err != nil {
			return kernel.Message{}, err
		}
	}
}

// WriteMessage writes msg followed by a newline.
func (t *lineTransport) WriteMessage(msg kernel.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.writer.Write(data)
	return err
}

// Close closes the kernel's stdin. The read side ends when the process
// closes its stdout.
func (t *lineTransport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.writer.Close()
}
