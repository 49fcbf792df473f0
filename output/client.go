package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Websocket frame types, shared by gorilla and fasthttp websocket conns.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// Mode selects how transcripts are delivered to the client.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeText Mode = "text"
)

// ParseMode returns the mode named by s, or fallback when s is empty or unknown.
func ParseMode(s string, fallback Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeJSON:
		return ModeJSON
	case ModeText:
		return ModeText
	default:
		return fallback
	}
}

// Conn is the subset of a websocket connection the relay needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// ClientOutput serializes every write to one client connection.
type ClientOutput struct {
	conn   Conn
	mode   Mode
	mu     sync.Mutex
	closed atomic.Bool
}

func NewClientOutput(conn Conn, mode Mode) (*ClientOutput, error) {
	if conn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if mode != ModeJSON && mode != ModeText {
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
	return &ClientOutput{conn: conn, mode: mode}, nil
}

func (o *ClientOutput) Mode() Mode { return o.mode }

// JSONMode reports whether envelopes are sent to this client.
func (o *ClientOutput) JSONMode() bool { return o.mode == ModeJSON }

func (o *ClientOutput) write(messageType int, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return fmt.Errorf("client connection closed")
	}
	return o.conn.WriteMessage(messageType, data)
}

// SendJSON writes v as a JSON text frame. It is a no-op in text mode.
func (o *ClientOutput) SendJSON(v any) error {
	if o.mode != ModeJSON {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal client message: %w", err)
	}
	return o.write(TextMessage, data)
}

// SendText writes s as a plain text frame regardless of mode.
func (o *ClientOutput) SendText(s string) error {
	return o.write(TextMessage, []byte(s))
}

// SendBinary writes an audio frame.
func (o *ClientOutput) SendBinary(data []byte) error {
	return o.write(BinaryMessage, data)
}

// Close closes the client connection once; later calls return nil.
func (o *ClientOutput) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	return o.conn.Close()
}
