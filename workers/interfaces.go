package workers

import "context"

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_workers.go -package=mocks

// Committer finalizes the upstream audio buffer.
type Committer interface {
	Commit(ctx context.Context) error
}

// Responder produces a reply for a finalized transcript of one session.
type Responder interface {
	Generate(ctx context.Context, sessionID, text string) (string, error)
}

// Synthesizer turns text into speech, calling emit for every audio segment
// as it is produced.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emit func([]byte) error) error
}

// ClientSink is where a response turn is delivered.
type ClientSink interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
}
