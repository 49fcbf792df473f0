package stt

import (
	"encoding/json"
	"strings"
)

// Upstream event types.
const (
	EventError                   = "error"
	EventSessionUpdated          = "session.updated"
	EventItemTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventItemTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	EventAudioTranscriptDelta    = "response.audio_transcript.delta"
	EventAudioTranscriptDone     = "response.audio_transcript.completed"
	EventOutputTextDelta         = "response.output_text.delta"
	EventBufferCommitted         = "input_audio_buffer.committed"
)

// Event is one raw upstream event. Fields whose shape upstream does not
// guarantee are kept raw and read through the accessors below.
type Event struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
	Text       json.RawMessage `json:"text,omitempty"`
	Delta      json.RawMessage `json:"delta,omitempty"`
	Item       *struct {
		Content []struct {
			Transcript json.RawMessage `json:"transcript,omitempty"`
		} `json:"content"`
	} `json:"item,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
	// AckedCommit is set when the event answered a pending Commit call.
	AckedCommit bool `json:"-"`
	// CommitRejection is set for transient commit rejections, including ones
	// that arrive after the waiting Commit gave up.
	CommitRejection bool `json:"-"`
}

// ParseEvent decodes one upstream frame.
func ParseEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, err
	}
	evt.Raw = append(json.RawMessage(nil), data...)
	return evt, nil
}

// ErrorInfo is the commonly seen shape of an upstream error payload.
type ErrorInfo struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorInfo decodes the error payload; missing or oddly shaped payloads yield zero values.
func (e Event) ErrorInfo() ErrorInfo {
	var info ErrorInfo
	if len(e.Error) > 0 {
		_ = json.Unmarshal(e.Error, &info)
	}
	return info
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Kind is the TranscriptEvent variant.
type Kind int

const (
	KindPartial Kind = iota
	KindFinal
	KindInfo
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindInfo:
		return "info"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// TranscriptEvent is the normalized form of an upstream event.
// Text and Delta are set for KindPartial/KindFinal, Message for KindInfo,
// Detail for KindError.
type TranscriptEvent struct {
	Kind      Kind
	Text      string
	Delta     string
	Message   string
	Detail    json.RawMessage
	EventType string
}

// Normalize maps a raw upstream event onto a TranscriptEvent, computing the
// delta against lastText. The boolean is false when the event carries nothing
// actionable.
//
// Recognition order: error events, the configuration acknowledgement, then
// transcript text from item completion, response audio transcripts and
// finally raw incremental text deltas.
func Normalize(evt Event, lastText string) (TranscriptEvent, bool) {
	switch evt.Type {
	case EventError:
		detail := evt.Error
		if len(detail) == 0 {
			detail = evt.Raw
		}
		return TranscriptEvent{Kind: KindError, Detail: detail, EventType: evt.Type}, true
	case EventSessionUpdated:
		return TranscriptEvent{Kind: KindInfo, Message: "realtime_connected_and_configured", EventType: evt.Type}, true
	}

	text := extractTranscript(evt, lastText)
	if text == "" {
		return TranscriptEvent{}, false
	}

	kind := KindPartial
	if evt.Type == EventItemTranscriptCompleted || evt.Type == EventAudioTranscriptDone {
		kind = KindFinal
	}
	return TranscriptEvent{
		Kind:      kind,
		Text:      text,
		Delta:     Delta(text, lastText),
		EventType: evt.Type,
	}, true
}

func extractTranscript(evt Event, lastText string) string {
	switch evt.Type {
	case EventItemTranscriptCompleted:
		if s := rawString(evt.Transcript); s != "" {
			return s
		}
		if evt.Item != nil && len(evt.Item.Content) > 0 {
			return rawString(evt.Item.Content[0].Transcript)
		}
	case EventAudioTranscriptDelta, EventAudioTranscriptDone:
		for _, raw := range []json.RawMessage{evt.Transcript, evt.Text, evt.Delta} {
			if s := rawString(raw); s != "" {
				return s
			}
		}
	case EventOutputTextDelta, EventItemTranscriptDelta:
		if d := rawString(evt.Delta); d != "" {
			return lastText + d
		}
	}
	return ""
}

// Delta returns the suffix of text not covered by lastText, or the whole text
// when it does not extend lastText.
func Delta(text, lastText string) string {
	if strings.HasPrefix(text, lastText) {
		return text[len(lastText):]
	}
	return text
}
