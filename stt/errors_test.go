package stt

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyCommitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want CommitClass
	}{
		{
			name: "buffer too small",
			err:  &CommitError{Message: "Error committing input audio buffer: buffer too small. Expected at least 100ms of audio, but buffer only has 40.00ms of audio."},
			want: CommitTransient,
		},
		{
			name: "ten milliseconds buffered",
			err:  &CommitError{Message: "buffer too small. Expected at least 100ms of audio, but buffer only has 10.00ms of audio."},
			want: CommitTransient,
		},
		{
			name: "ninety milliseconds buffered",
			err:  &CommitError{Code: "input_audio_buffer_commit_empty", Message: "buffer too small. Expected at least 100ms of audio, but buffer only has 90.00ms of audio."},
			want: CommitTransient,
		},
		{
			name: "marker at start of message",
			err:  &CommitError{Message: "0.00ms of audio: buffer too small"},
			want: CommitBufferEmpty,
		},
		{
			name: "commit empty code",
			err:  &CommitError{Code: "input_audio_buffer_commit_empty", Message: "nothing to commit"},
			want: CommitTransient,
		},
		{
			name: "empty buffer marker",
			err:  &CommitError{Code: "input_audio_buffer_commit_empty", Message: "buffer too small. Expected at least 100ms of audio, but buffer only has 0.00ms of audio."},
			want: CommitBufferEmpty,
		},
		{
			name: "other upstream rejection",
			err:  &CommitError{Code: "server_error", Message: "internal failure"},
			want: CommitFatal,
		},
		{
			name: "transport failure",
			err:  &opError{op: "commit", kind: ErrSend, err: errors.New("broken pipe")},
			want: CommitFatal,
		},
		{
			name: "wrapped transient",
			err:  fmt.Errorf("tick: %w", &CommitError{Message: "buffer too small"}),
			want: CommitTransient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyCommitError(tt.err); got != tt.want {
				t.Fatalf("ClassifyCommitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := &opError{op: "connect", kind: ErrConnect, err: cause}
	if !errors.Is(err, ErrConnect) {
		t.Fatal("expected errors.Is(err, ErrConnect)")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is(err, cause)")
	}
}

func TestIsCommitRejection(t *testing.T) {
	tests := []struct {
		info ErrorInfo
		want bool
	}{
		{ErrorInfo{Code: "input_audio_buffer_commit_empty", Message: "nothing"}, true},
		{ErrorInfo{Message: "buffer too small. Expected at least 100ms of audio, but buffer only has 0.00ms of audio."}, true},
		{ErrorInfo{Code: "invalid_request_error", Message: "bad"}, false},
		{ErrorInfo{}, false},
	}
	for _, tt := range tests {
		if got := IsCommitRejection(tt.info); got != tt.want {
			t.Errorf("IsCommitRejection(%+v) = %v, want %v", tt.info, got, tt.want)
		}
	}
}
