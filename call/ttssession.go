package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/output"
	"github.com/mrsingh-rishi/voice-relay/types"
	"github.com/mrsingh-rishi/voice-relay/workers"
)

// SpeechSession serves standalone text-to-speech requests over one client
// connection. Requests are handled one at a time.
type SpeechSession struct {
	conn        output.Conn
	out         *output.ClientOutput
	synthesizer workers.Synthesizer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewSpeechSession wraps conn. A nil synthesizer answers every request with an error.
func NewSpeechSession(conn output.Conn, synthesizer workers.Synthesizer, m *metrics.Metrics, logger *slog.Logger) (*SpeechSession, error) {
	out, err := output.NewClientOutput(conn, output.ModeJSON)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechSession{conn: conn, out: out, synthesizer: synthesizer, metrics: m, logger: logger}, nil
}

// Run serves requests until the client disconnects, asks to, or ctx ends.
func (s *SpeechSession) Run(ctx context.Context) {
	defer s.out.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	s.send(types.Status{Type: types.TypeStatus, Stage: types.StageReady})
	s.logger.Info("TTS websocket connected")

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("TTS websocket closed", slog.String("reason", err.Error()))
			return
		}
		if messageType != output.TextMessage {
			continue
		}

		var req types.TTSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(types.ReasonBadRequest, "Invalid JSON format", "")
			continue
		}
		switch req.Type {
		case "ping":
			s.send(map[string]string{"type": types.TypePong})
		case "tts_request":
			text := strings.TrimSpace(req.Text)
			if text == "" {
				s.sendError(types.ReasonBadRequest, "No text provided", "")
				continue
			}
			s.speak(ctx, text)
		case "disconnect":
			s.logger.Info("Client requested disconnect")
			return
		default:
			s.sendError(types.ReasonBadRequest, "Unknown message type: "+req.Type, "")
		}
	}
}

func (s *SpeechSession) speak(ctx context.Context, text string) {
	requestID := uuid.NewString()
	started := time.Now()
	if s.synthesizer == nil {
		s.sendError(types.ReasonTTSFailed, "speech synthesis is not configured", requestID)
		return
	}

	s.send(types.Status{Type: types.TypeStatus, Stage: types.StageProcessing, TextLength: len([]rune(text)), RequestID: requestID})
	s.send(types.Status{Type: types.TypeStatus, Stage: types.StageStreaming, RequestID: requestID})

	total := 0
	err := s.synthesizer.Synthesize(ctx, text, func(audio []byte) error {
		total += len(audio)
		if s.metrics != nil {
			s.metrics.TTSBytesOut.Add(float64(len(audio)))
		}
		return s.out.SendBinary(audio)
	})
	if err != nil {
		s.logger.Error("TTS request failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		s.sendError(types.ReasonTTSFailed, err.Error(), requestID)
		return
	}

	elapsed := time.Since(started).Seconds()
	s.send(types.Status{
		Type:            types.TypeStatus,
		Stage:           types.StageDone,
		AudioBytesTotal: total,
		ElapsedSec:      float64(int(elapsed*1000)) / 1000,
		RequestID:       requestID,
	})
	s.logger.Info("TTS request completed", slog.Int("audio_bytes_total", total), slog.Float64("elapsed_sec", elapsed))
}

func (s *SpeechSession) sendError(reason, message, requestID string) {
	s.send(types.Error{Type: types.TypeError, Reason: reason, Message: message, RequestID: requestID})
}

func (s *SpeechSession) send(v any) {
	if err := s.out.SendJSON(v); err != nil {
		s.logger.Debug("Failed to send TTS message", slog.String("error", err.Error()))
	}
}
