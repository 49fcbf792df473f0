// Package debugstore keeps bounded per-session logs of what flowed through a
// relay session, for inspection over the debug HTTP endpoints.
package debugstore

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrsingh-rishi/voice-relay/queue"
)

const (
	DefaultBufferSize  = 500
	DefaultMaxSessions = 1000
)

// SessionBuffers holds the circular logs for one session.
type SessionBuffers struct {
	FrontendChunks *queue.Queue[int]    // inbound client chunk sizes
	OpenAIChunks   *queue.Queue[int]    // chunk sizes forwarded upstream
	OpenAIText     *queue.Queue[string] // accepted transcripts
	FrontendText   *queue.Queue[string] // deltas emitted to the client
	RTEvents       *queue.Queue[string] // raw upstream event types
}

// NewSessionBuffers allocates buffers of the given capacity.
func NewSessionBuffers(capacity int) *SessionBuffers {
	return &SessionBuffers{
		FrontendChunks: queue.New[int](capacity),
		OpenAIChunks:   queue.New[int](capacity),
		OpenAIText:     queue.New[string](capacity),
		FrontendText:   queue.New[string](capacity),
		RTEvents:       queue.New[string](capacity),
	}
}

// Store is the process-wide session registry. Sessions outlive their
// connection and are evicted least-recently-used once maxSessions is reached.
type Store struct {
	capacity int
	sessions *lru.Cache[string, *SessionBuffers]
}

// NewStore creates a registry retaining at most maxSessions sessions, each
// with buffers of the given capacity.
func NewStore(maxSessions, capacity int) (*Store, error) {
	if maxSessions < 1 {
		maxSessions = DefaultMaxSessions
	}
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	cache, err := lru.New[string, *SessionBuffers](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{capacity: capacity, sessions: cache}, nil
}

// NewSession registers fresh buffers under a new random identifier.
func (s *Store) NewSession() (string, *SessionBuffers) {
	id := uuid.NewString()
	buf := NewSessionBuffers(s.capacity)
	s.sessions.Add(id, buf)
	return id, buf
}

// Get returns the buffers for id without creating them.
func (s *Store) Get(id string) (*SessionBuffers, bool) {
	return s.sessions.Get(id)
}

// List returns known session ids, oldest first.
func (s *Store) List() []string {
	return s.sessions.Keys()
}

// Reset replaces the buffers for id, or drops every session when id is empty.
func (s *Store) Reset(id string) {
	if id == "" {
		s.sessions.Purge()
		return
	}
	s.sessions.Add(id, NewSessionBuffers(s.capacity))
}
