package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrsingh-rishi/voice-relay/model"
)

const (
	maxMessageSize = 32 * 1024 * 1024
	writeTimeout   = 5 * time.Second
)

// Config configures the upstream realtime transcription link.
type Config struct {
	URL              string
	APIKey           string
	Model            string
	Language         string
	AddBetaHeader    bool
	HandshakeTimeout time.Duration
	// CommitAckTimeout bounds how long Commit waits for upstream to accept or
	// reject the commit. Zero means fire-and-forget.
	CommitAckTimeout time.Duration
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		Modalities              []string `json:"modalities"`
		InputAudioFormat        string   `json:"input_audio_format"`
		InputAudioTranscription struct {
			Model    string `json:"model"`
			Language string `json:"language,omitempty"`
		} `json:"input_audio_transcription"`
		TurnDetection turnDetection `json:"turn_detection"`
	} `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bufferCommit struct {
	Type string `json:"type"`
}

// Client owns one websocket connection to the realtime transcription service.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	pendingMu sync.Mutex
	pending   chan error
}

// NewClient creates an unconnected link.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("realtime url is required")
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

func (c *Client) headers() http.Header {
	header := http.Header{}
	if strings.Contains(c.cfg.URL, ".openai.azure.com") {
		header.Set("api-key", c.cfg.APIKey)
		return header
	}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AddBetaHeader {
		header.Set("OpenAI-Beta", "realtime=v1")
	}
	return header
}

// Connect dials upstream and sends the session configuration.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.headers())
	if err != nil {
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err = fmt.Errorf("status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return &opError{op: "connect", kind: ErrConnect, err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	var update sessionUpdate
	update.Type = "session.update"
	update.Session.Modalities = []string{"text"}
	update.Session.InputAudioFormat = "pcm16"
	update.Session.InputAudioTranscription.Model = c.cfg.Model
	update.Session.InputAudioTranscription.Language = c.cfg.Language
	update.Session.TurnDetection = turnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 500,
		CreateResponse:    false,
		InterruptResponse: true,
	}
	if err := c.writeJSON(update); err != nil {
		_ = c.Close()
		return &opError{op: "connect", kind: ErrConnect, err: err}
	}

	c.logger.Info("Connected to realtime service", slog.String("language", c.cfg.Language))
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil || c.closed.Load() {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// SendAudioChunk forwards one PCM16 chunk as a base64 buffer append.
func (c *Client) SendAudioChunk(chunk model.AudioChunk) error {
	err := c.writeJSON(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
	if err == nil || err == ErrNotConnected {
		return err
	}
	return &opError{op: "append", kind: ErrSend, err: err}
}

// Commit asks upstream to finalize the buffered audio and waits for the
// acknowledgement. A rejection is returned as *CommitError. If upstream stays
// silent past CommitAckTimeout the commit is treated as accepted.
func (c *Client) Commit(ctx context.Context) error {
	ack := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		if c.pending == ack {
			c.pending = nil
		}
		c.pendingMu.Unlock()
	}()

	if err := c.writeJSON(bufferCommit{Type: "input_audio_buffer.commit"}); err != nil {
		if err == ErrNotConnected {
			return err
		}
		return &opError{op: "commit", kind: ErrSend, err: err}
	}
	if c.cfg.CommitAckTimeout <= 0 {
		return nil
	}

	timer := time.NewTimer(c.cfg.CommitAckTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-timer.C:
		c.logger.Debug("Commit not acknowledged in time", slog.Duration("timeout", c.cfg.CommitAckTimeout))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveCommit hands err to a waiting Commit. It reports whether one was waiting.
func (c *Client) resolveCommit(err error) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == nil {
		return false
	}
	select {
	case c.pending <- err:
	default:
	}
	c.pending = nil
	return true
}

func (c *Client) ackCommit(evt *Event) {
	switch evt.Type {
	case EventBufferCommitted:
		evt.AckedCommit = c.resolveCommit(nil)
	case EventError:
		info := evt.ErrorInfo()
		if IsCommitRejection(info) {
			evt.CommitRejection = true
			evt.AckedCommit = c.resolveCommit(&CommitError{Code: info.Code, Message: info.Message})
		}
	}
}

// RecvLoop reads upstream events until the connection closes or ctx is
// cancelled, calling onEvent for each in arrival order. Frames that fail to
// parse and callback errors are logged and skipped. Cancellation returns nil;
// a closed or broken connection returns an error wrapping ErrTransport.
func (c *Client) RecvLoop(ctx context.Context, onEvent func(Event) error) error {
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil || c.closed.Load() {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("Realtime websocket closed", slog.String("reason", err.Error()))
			} else {
				c.logger.Warn("Realtime read error", slog.String("error", err.Error()))
			}
			return &opError{op: "recv", kind: ErrTransport, err: err}
		}

		evt, err := ParseEvent(data)
		if err != nil {
			c.logger.Warn("Failed to parse realtime event", slog.String("error", err.Error()))
			continue
		}
		c.ackCommit(&evt)
		if err := onEvent(evt); err != nil {
			c.logger.Warn("Failed to handle realtime event",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close releases the upstream connection. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Closing connection"))
	return c.conn.Close()
}
