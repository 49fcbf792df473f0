package types

import (
	"encoding/json"
	"time"
)

// Message types sent to the client in JSON mode.
const (
	TypeReady          = "ready"
	TypeSessionStarted = "session.started"
	TypeInfo           = "info"
	TypeError          = "error"
	TypePartial        = "stt.partial"
	TypeFinal          = "stt.final"
	TypeProcessing     = "stt.processing"
	TypeStatus         = "status"
	TypePong           = "pong"
)

// Status stages emitted while a response turn is produced.
const (
	StageLLMResponseReady     = "llm_response_ready"
	StageAudioChunk           = "audio_chunk"
	StageConversationComplete = "conversation_complete"
	StageReady                = "ready"
	StageProcessing           = "processing"
	StageStreaming            = "streaming"
	StageDone                 = "done"
)

// Error reasons reported to the client.
const (
	ReasonRealtimeConnectFailed = "realtime_connect_failed"
	ReasonRealtimeError         = "realtime_error"
	ReasonDownstreamFailed      = "downstream_failed"
	ReasonBadRequest            = "bad_request"
	ReasonTTSFailed             = "tts_failed"
)

// TranscriptionResult is a finalized transcript handed to the response worker.
type TranscriptionResult struct {
	Transcription string
	ReceivedAt    time.Time
}

type AudioIn struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type AudioOut struct {
	Mimetype string `json:"mimetype"`
}

// Ready announces the audio formats the relay expects and produces.
type Ready struct {
	Type     string   `json:"type"`
	AudioIn  AudioIn  `json:"audio_in"`
	AudioOut AudioOut `json:"audio_out"`
}

// NewReady returns the handshake message for PCM16 mono 16kHz in, MPEG out.
func NewReady() Ready {
	return Ready{
		Type:     TypeReady,
		AudioIn:  AudioIn{Encoding: "pcm16", SampleRateHz: 16000, Channels: 1},
		AudioOut: AudioOut{Mimetype: "audio/mpeg"},
	}
}

type SessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type Info struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// Error is sent for upstream failures, connect failures, failed turns and
// rejected speech requests. Detail carries the raw upstream error object when
// there is one.
type Error struct {
	Type      string          `json:"type"`
	Reason    string          `json:"reason"`
	Message   string          `json:"message,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Transcript carries stt.partial, stt.final and stt.processing messages.
type Transcript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Status reports progress of a response turn or a standalone TTS request.
type Status struct {
	Type            string  `json:"type"`
	Stage           string  `json:"stage"`
	Text            string  `json:"text,omitempty"`
	TextLength      int     `json:"text_length,omitempty"`
	Bytes           int     `json:"bytes,omitempty"`
	AudioBytesTotal int     `json:"audio_bytes_total,omitempty"`
	ElapsedSec      float64 `json:"elapsed_sec,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
}

// TTSRequest is the client message accepted on the standalone speech socket.
type TTSRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
