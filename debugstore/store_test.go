package debugstore

import (
	"testing"
)

func TestNewSessionRegistersBuffers(t *testing.T) {
	s, err := NewStore(10, 4)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, buf := s.NewSession()
	if id == "" {
		t.Fatal("expected a session id")
	}
	got, ok := s.Get(id)
	if !ok || got != buf {
		t.Fatal("Get should return the registered buffers")
	}
	for i := 0; i < 6; i++ {
		buf.RTEvents.Enqueue("evt")
	}
	if buf.RTEvents.Len() != 4 {
		t.Fatalf("buffer retained %d events, want capacity 4", buf.RTEvents.Len())
	}
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewStore(2, 4)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first, _ := s.NewSession()
	second, _ := s.NewSession()
	third, _ := s.NewSession()

	if _, ok := s.Get(first); ok {
		t.Fatal("oldest session should have been evicted")
	}
	for _, id := range []string{second, third} {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("session %s should be retained", id)
		}
	}
	if len(s.List()) != 2 {
		t.Fatalf("List() = %v, want 2 ids", s.List())
	}
}

func TestStoreReset(t *testing.T) {
	s, err := NewStore(10, 4)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, buf := s.NewSession()
	buf.OpenAIText.Enqueue("hej")

	s.Reset(id)
	fresh, ok := s.Get(id)
	if !ok {
		t.Fatal("reset session should still exist")
	}
	if fresh.OpenAIText.Len() != 0 {
		t.Fatal("reset session should have empty buffers")
	}

	s.NewSession()
	s.Reset("")
	if len(s.List()) != 0 {
		t.Fatalf("Reset(\"\") should drop all sessions, got %v", s.List())
	}
}

func TestStoreDefaults(t *testing.T) {
	s, err := NewStore(0, 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, buf := s.NewSession()
	for i := 0; i < DefaultBufferSize+10; i++ {
		buf.FrontendChunks.Enqueue(i)
	}
	if buf.FrontendChunks.Len() != DefaultBufferSize {
		t.Fatalf("default capacity = %d, want %d", buf.FrontendChunks.Len(), DefaultBufferSize)
	}
}
