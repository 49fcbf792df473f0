package model

import (
	"sync"
	"time"
)

// AudioChunk represents a chunk of PCM16 mono 16kHz audio, forwarded verbatim.
type AudioChunk []byte

// State is the mutable per-session record shared by the inbound loop,
// the commit worker and the upstream event consumer.
type State struct {
	mu          sync.Mutex
	lastText    string
	hasAudio    bool
	lastAudioAt time.Time
}

// NewState returns an empty session state.
func NewState() *State {
	return &State{}
}

// LastText returns the most recent full transcript seen.
func (s *State) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

// SetLastText replaces the most recent full transcript.
func (s *State) SetLastText(text string) {
	s.mu.Lock()
	s.lastText = text
	s.mu.Unlock()
}

// MarkAudio records that a chunk was forwarded upstream at t.
func (s *State) MarkAudio(t time.Time) {
	s.mu.Lock()
	s.hasAudio = true
	s.lastAudioAt = t
	s.mu.Unlock()
}

// Audio reports whether audio is pending a commit and when the last chunk was sent.
func (s *State) Audio() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAudio, s.lastAudioAt
}

// ResetAudio clears the audio-presence flag.
func (s *State) ResetAudio() {
	s.mu.Lock()
	s.hasAudio = false
	s.mu.Unlock()
}

// ResetAudioIfUnchanged clears the flag only if no chunk arrived after since.
// It returns false when newer audio is pending.
func (s *State) ResetAudioIfUnchanged(since time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAudioAt.After(since) {
		return false
	}
	s.hasAudio = false
	return true
}
