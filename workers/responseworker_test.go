package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/mrsingh-rishi/voice-relay/types"
	"github.com/mrsingh-rishi/voice-relay/workers/mocks"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []any
	added    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{added: make(chan struct{}, 64)}
}

func (s *recordingSink) SendJSON(v any) error {
	s.mu.Lock()
	s.messages = append(s.messages, v)
	s.mu.Unlock()
	s.added <- struct{}{}
	return nil
}

func (s *recordingSink) SendBinary(data []byte) error {
	s.mu.Lock()
	s.messages = append(s.messages, append([]byte(nil), data...))
	s.mu.Unlock()
	s.added <- struct{}{}
	return nil
}

func (s *recordingSink) waitFor(t *testing.T, n int) []any {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.added:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d messages, want %d", i, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.messages...)
}

func startResponseWorker(t *testing.T, responder Responder, synth Synthesizer, sink ClientSink) *ResponseWorker {
	t.Helper()
	w, err := NewResponseWorker("s1", responder, synth, sink, quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewResponseWorker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestNewResponseWorkerValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	r, s := mocks.NewMockResponder(ctrl), mocks.NewMockSynthesizer(ctrl)
	if _, err := NewResponseWorker("s1", nil, s, newRecordingSink(), nil, nil); err == nil {
		t.Error("expected error without responder")
	}
	if _, err := NewResponseWorker("s1", r, nil, newRecordingSink(), nil, nil); err == nil {
		t.Error("expected error without synthesizer")
	}
	if _, err := NewResponseWorker("s1", r, s, nil, nil, nil); err == nil {
		t.Error("expected error without sink")
	}
}

func TestEnqueueIgnoresBlankTranscript(t *testing.T) {
	ctrl := gomock.NewController(t)
	w := startResponseWorker(t, mocks.NewMockResponder(ctrl), mocks.NewMockSynthesizer(ctrl), newRecordingSink())
	for _, text := range []string{"", "   ", "\n\t"} {
		if w.Enqueue(text) {
			t.Errorf("Enqueue(%q) = true, want false", text)
		}
	}
}

func TestResponseTurnStreamsAudio(t *testing.T) {
	ctrl := gomock.NewController(t)
	responder := mocks.NewMockResponder(ctrl)
	synth := mocks.NewMockSynthesizer(ctrl)
	responder.EXPECT().Generate(gomock.Any(), "s1", "hej").Return("Hej! Hur mår du?", nil).Times(1)
	synth.EXPECT().Synthesize(gomock.Any(), "Hej! Hur mår du?", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, emit func([]byte) error) error {
			if err := emit([]byte{1, 2, 3}); err != nil {
				return err
			}
			return emit([]byte{4, 5})
		}).Times(1)

	sink := newRecordingSink()
	w := startResponseWorker(t, responder, synth, sink)
	if !w.Enqueue(" hej ") {
		t.Fatal("Enqueue rejected a real transcript")
	}

	msgs := sink.waitFor(t, 6)
	ready, ok := msgs[0].(types.Status)
	if !ok || ready.Stage != types.StageLLMResponseReady || ready.Text != "Hej! Hur mår du?" {
		t.Fatalf("first message = %#v", msgs[0])
	}
	first, ok := msgs[1].(types.Status)
	if !ok || first.Stage != types.StageAudioChunk || first.Bytes != 3 || first.AudioBytesTotal != 3 {
		t.Fatalf("second message = %#v", msgs[1])
	}
	if audio, ok := msgs[2].([]byte); !ok || len(audio) != 3 {
		t.Fatalf("third message = %#v", msgs[2])
	}
	second := msgs[3].(types.Status)
	if second.Bytes != 2 || second.AudioBytesTotal != 5 {
		t.Fatalf("fourth message = %#v", second)
	}
	done, ok := msgs[5].(types.Status)
	if !ok || done.Stage != types.StageConversationComplete || done.AudioBytesTotal != 5 {
		t.Fatalf("last message = %#v", msgs[5])
	}
}

func TestResponseTurnFailureReportsOnce(t *testing.T) {
	tests := []struct {
		name     string
		messages int
		setup    func(r *mocks.MockResponder, s *mocks.MockSynthesizer)
	}{
		{
			name:     "responder fails",
			messages: 1,
			setup: func(r *mocks.MockResponder, s *mocks.MockSynthesizer) {
				r.EXPECT().Generate(gomock.Any(), "s1", "hej").Return("", errors.New("rate limited"))
			},
		},
		{
			name:     "synthesizer fails",
			messages: 2,
			setup: func(r *mocks.MockResponder, s *mocks.MockSynthesizer) {
				r.EXPECT().Generate(gomock.Any(), "s1", "hej").Return("Hej!", nil)
				s.EXPECT().Synthesize(gomock.Any(), "Hej!", gomock.Any()).Return(errors.New("tts bad status"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			responder := mocks.NewMockResponder(ctrl)
			synth := mocks.NewMockSynthesizer(ctrl)
			tt.setup(responder, synth)

			sink := newRecordingSink()
			w := startResponseWorker(t, responder, synth, sink)
			w.Enqueue("hej")

			msgs := sink.waitFor(t, tt.messages)
			last := msgs[len(msgs)-1]
			errMsg, ok := last.(types.Error)
			if !ok || errMsg.Reason != types.ReasonDownstreamFailed || errMsg.Message == "" {
				t.Fatalf("message = %#v, want downstream error", last)
			}

			time.Sleep(20 * time.Millisecond)
			sink.mu.Lock()
			defer sink.mu.Unlock()
			count := 0
			for _, m := range sink.messages {
				if _, ok := m.(types.Error); ok {
					count++
				}
			}
			if count != 1 || len(sink.messages) != tt.messages {
				t.Fatalf("messages = %#v, want exactly one error", sink.messages)
			}
		})
	}
}

func TestResponseTurnsRunInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	responder := mocks.NewMockResponder(ctrl)
	synth := mocks.NewMockSynthesizer(ctrl)
	gomock.InOrder(
		responder.EXPECT().Generate(gomock.Any(), "s1", "ett").Return("1", nil),
		responder.EXPECT().Generate(gomock.Any(), "s1", "två").Return("2", nil),
	)
	synth.EXPECT().Synthesize(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)

	sink := newRecordingSink()
	w := startResponseWorker(t, responder, synth, sink)
	w.Enqueue("ett")
	w.Enqueue("två")
	msgs := sink.waitFor(t, 4)
	if msgs[0].(types.Status).Text != "1" || msgs[2].(types.Status).Text != "2" {
		t.Fatalf("messages = %#v", msgs)
	}
}
