package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/kernelmux/kernel"
)

const closeGracePeriod = time.Second

// wsTransport carries kernel messages as JSON text frames. The gateway
// tags every frame with its channel.
type wsTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, logger *slog.Logger) *wsTransport {
	return &wsTransport{conn: conn, logger: logger}
}

// ReadMessage implements kernel.Transport. Binary frames and frames that
// are not kernel messages are skipped.
func (t *wsTransport) ReadMessage() (kernel.Message, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return kernel.Message{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg kernel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Debug("skip malformed frame", slog.Any("error", err))
			continue
		}
		return msg, nil
	}
}

// WriteMessage implements kernel.Transport. gorilla connections allow one
// concurrent writer.
func (t *wsTransport) WriteMessage(msg kernel.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

// Close sends a close frame and closes the socket, which ends ReadMessage.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
