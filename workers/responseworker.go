package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/types"
)

const defaultResponseBacklog = 16

// ResponseWorker turns finalized transcripts into a spoken reply: one LLM
// call, then speech synthesis streamed to the client. Turns of a session run
// one at a time in arrival order.
type ResponseWorker struct {
	sessionID   string
	responder   Responder
	synthesizer Synthesizer
	sink        ClientSink
	logger      *slog.Logger
	metrics     *metrics.Metrics

	TranscriptionChannel chan types.TranscriptionResult
}

func NewResponseWorker(
	sessionID string,
	responder Responder,
	synthesizer Synthesizer,
	sink ClientSink,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*ResponseWorker, error) {
	if responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("client sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseWorker{
		sessionID:            sessionID,
		responder:            responder,
		synthesizer:          synthesizer,
		sink:                 sink,
		logger:               logger,
		metrics:              m,
		TranscriptionChannel: make(chan types.TranscriptionResult, defaultResponseBacklog),
	}, nil
}

// Enqueue schedules a turn for text. Blank text is ignored. It never blocks;
// it reports false when the turn was not accepted.
func (w *ResponseWorker) Enqueue(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	select {
	case w.TranscriptionChannel <- types.TranscriptionResult{Transcription: text, ReceivedAt: time.Now()}:
		return true
	default:
		w.logger.Warn("Response backlog full, dropping transcript", slog.String("text", text))
		w.recordTurn("dropped")
		return false
	}
}

// Run processes queued turns until ctx is cancelled.
func (w *ResponseWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-w.TranscriptionChannel:
			w.handle(ctx, result)
		}
	}
}

func (w *ResponseWorker) handle(ctx context.Context, result types.TranscriptionResult) {
	total, err := w.respond(ctx, result.Transcription)
	if err == nil {
		w.recordTurn("ok")
		if w.metrics != nil {
			w.metrics.DownstreamLatency.Observe(time.Since(result.ReceivedAt).Seconds())
		}
		w.logger.Info("Response turn complete", slog.Int("audio_bytes_total", total))
		return
	}
	if ctx.Err() != nil {
		w.logger.Debug("Response turn cancelled", slog.String("error", err.Error()))
		return
	}
	w.recordTurn("failed")
	w.logger.Error("Response turn failed", slog.String("error", err.Error()))
	if sendErr := w.sink.SendJSON(types.Error{
		Type:    types.TypeError,
		Reason:  types.ReasonDownstreamFailed,
		Message: err.Error(),
	}); sendErr != nil {
		w.logger.Debug("Failed to report response failure", slog.String("error", sendErr.Error()))
	}
}

func (w *ResponseWorker) respond(ctx context.Context, text string) (int, error) {
	reply, err := w.responder.Generate(ctx, w.sessionID, text)
	if err != nil {
		return 0, fmt.Errorf("generate response: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return 0, fmt.Errorf("generate response: empty reply")
	}
	if err := w.sink.SendJSON(types.Status{
		Type:  types.TypeStatus,
		Stage: types.StageLLMResponseReady,
		Text:  reply,
	}); err != nil {
		return 0, fmt.Errorf("send response status: %w", err)
	}

	total := 0
	err = w.synthesizer.Synthesize(ctx, reply, func(audio []byte) error {
		total += len(audio)
		if err := w.sink.SendJSON(types.Status{
			Type:            types.TypeStatus,
			Stage:           types.StageAudioChunk,
			Bytes:           len(audio),
			AudioBytesTotal: total,
		}); err != nil {
			return err
		}
		if err := w.sink.SendBinary(audio); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.TTSBytesOut.Add(float64(len(audio)))
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("synthesize response: %w", err)
	}

	if err := w.sink.SendJSON(types.Status{
		Type:            types.TypeStatus,
		Stage:           types.StageConversationComplete,
		AudioBytesTotal: total,
	}); err != nil {
		return total, fmt.Errorf("send completion status: %w", err)
	}
	return total, nil
}

func (w *ResponseWorker) recordTurn(result string) {
	if w.metrics != nil {
		w.metrics.DownstreamTurns.WithLabelValues(result).Inc()
	}
}
