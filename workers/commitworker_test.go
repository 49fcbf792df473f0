package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/stt"
	"github.com/mrsingh-rishi/voice-relay/workers/mocks"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCommitWorker(t *testing.T, link Committer, state *model.State, now time.Time) *CommitWorker {
	t.Helper()
	w, err := NewCommitWorker(link, state, time.Millisecond, 2*time.Second, quietLogger(), nil)
	if err != nil {
		t.Fatalf("NewCommitWorker: %v", err)
	}
	w.now = func() time.Time { return now }
	return w
}

func TestNewCommitWorkerValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	if _, err := NewCommitWorker(nil, model.NewState(), time.Second, time.Second, nil, nil); err == nil {
		t.Error("expected error without committer")
	}
	if _, err := NewCommitWorker(link, nil, time.Second, time.Second, nil, nil); err == nil {
		t.Error("expected error without state")
	}
	w, err := NewCommitWorker(link, model.NewState(), 0, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("NewCommitWorker: %v", err)
	}
	if w.interval != time.Millisecond {
		t.Errorf("interval = %v, want 1ms floor", w.interval)
	}
}

func TestCommitWorkerSkipsWithoutAudio(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl) // no calls expected
	w := newCommitWorker(t, link, model.NewState(), time.Now())
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestCommitWorkerIdleTimeoutResetsFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl) // no calls expected
	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)

	w := newCommitWorker(t, link, state, last.Add(2*time.Second+time.Millisecond))
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if has, _ := state.Audio(); has {
		t.Fatal("audio flag still set after idle timeout")
	}
}

func TestCommitWorkerSuccessResetsFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	link.EXPECT().Commit(gomock.Any()).Return(nil).Times(1)
	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)

	w := newCommitWorker(t, link, state, last.Add(100*time.Millisecond))
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if has, _ := state.Audio(); has {
		t.Fatal("audio flag still set after successful commit")
	}
}

func TestCommitWorkerKeepsFlagWhenAudioArrivesDuringCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)
	link.EXPECT().Commit(gomock.Any()).DoAndReturn(func(context.Context) error {
		state.MarkAudio(last.Add(50 * time.Millisecond))
		return nil
	})

	w := newCommitWorker(t, link, state, last.Add(10*time.Millisecond))
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if has, _ := state.Audio(); !has {
		t.Fatal("audio sent during the commit must stay pending")
	}
}

func TestCommitWorkerBufferTooSmallNeverStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	var calls atomic.Int32
	link.EXPECT().Commit(gomock.Any()).DoAndReturn(func(context.Context) error {
		calls.Add(1)
		return &stt.CommitError{
			Code:    "input_audio_buffer_commit_empty",
			Message: "Error committing input audio buffer: buffer too small. Expected at least 100ms of audio, but buffer only has 40.00ms of audio.",
		}
	}).MinTimes(2)

	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)
	m := metrics.NewMetrics()
	w, err := NewCommitWorker(link, state, time.Millisecond, 2*time.Second, quietLogger(), m)
	if err != nil {
		t.Fatalf("NewCommitWorker: %v", err)
	}
	w.now = func() time.Time { return last }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil after cancellation", err)
	}
	if has, _ := state.Audio(); !has {
		t.Fatal("transient failure must keep the audio flag")
	}
	if got := testutil.ToFloat64(m.Commits.WithLabelValues("transient")); got < 1 || got > float64(calls.Load()) {
		t.Fatalf("transient commits metric = %v after %d calls", got, calls.Load())
	}
}

func TestCommitWorkerEmptyBufferResetsFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	link.EXPECT().Commit(gomock.Any()).Return(&stt.CommitError{
		Code:    "input_audio_buffer_commit_empty",
		Message: "Error committing input audio buffer: buffer too small. Expected at least 100ms of audio, but buffer only has 0.00ms of audio.",
	})
	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)

	w := newCommitWorker(t, link, state, last)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if has, _ := state.Audio(); has {
		t.Fatal("empty buffer must reset the audio flag")
	}
}

func TestCommitWorkerOtherFailureStops(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"upstream rejection", &stt.CommitError{Code: "invalid_request_error", Message: "Conversation already has an active response"}},
		{"transport failure", errors.New("write: broken pipe")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			link := mocks.NewMockCommitter(ctrl)
			link.EXPECT().Commit(gomock.Any()).Return(tt.err).Times(1)
			state := model.NewState()
			last := time.Now()
			state.MarkAudio(last)

			w := newCommitWorker(t, link, state, last)
			done := make(chan error, 1)
			go func() { done <- w.Run(context.Background()) }()

			select {
			case err := <-done:
				if !errors.Is(err, tt.err) {
					t.Fatalf("Run = %v, want wrapped %v", err, tt.err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("worker kept running after a fatal commit failure")
			}
		})
	}
}

func TestCommitWorkerCancelledCommitIsSilent(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockCommitter(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	link.EXPECT().Commit(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	state := model.NewState()
	last := time.Now()
	state.MarkAudio(last)

	w := newCommitWorker(t, link, state, last)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}
