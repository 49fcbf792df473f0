package stt

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrConnect is returned when the upstream handshake or configuration send fails.
	ErrConnect = errors.New("realtime connect failed")
	// ErrNotConnected is returned when the link is used before Connect succeeded or after Close.
	ErrNotConnected = errors.New("realtime websocket not connected")
	// ErrSend is returned when a write to the upstream socket fails.
	ErrSend = errors.New("realtime send failed")
	// ErrTransport is returned by RecvLoop when the upstream socket closes or breaks.
	ErrTransport = errors.New("realtime transport closed")
)

// opError pairs an error kind with its cause so both match errors.Is.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error { return []error{e.kind, e.err} }

// CommitError carries the raw upstream error for a rejected buffer commit.
type CommitError struct {
	Code    string
	Message string
}

func (e *CommitError) Error() string {
	if e.Code == "" {
		return "commit rejected: " + e.Message
	}
	return "commit rejected: " + e.Code + ": " + e.Message
}

// CommitClass says how the commit worker should react to a commit failure.
type CommitClass int

const (
	// CommitFatal stops the commit worker.
	CommitFatal CommitClass = iota
	// CommitTransient means not enough audio is buffered yet; retry next tick.
	CommitTransient
	// CommitBufferEmpty is transient and the upstream buffer holds no audio at all.
	CommitBufferEmpty
)

func (c CommitClass) String() string {
	switch c {
	case CommitTransient:
		return "transient"
	case CommitBufferEmpty:
		return "buffer_empty"
	default:
		return "fatal"
	}
}

// emptyBufferMarker matches "0.00ms of audio" only when no digit precedes it,
// so "40.00ms of audio" is not read as an empty buffer.
var emptyBufferMarker = regexp.MustCompile(`(?:^|[^0-9.])0\.00ms of audio`)

// ClassifyCommitError maps a commit failure onto a CommitClass.
//
// Upstream exposes no stable structured code for these conditions across
// versions, so the match is on substrings of the raw error text.
func ClassifyCommitError(err error) CommitClass {
	return classifyCommitText(err.Error())
}

// IsCommitRejection reports whether an upstream error payload is a transient
// rejection of a buffer commit.
func IsCommitRejection(info ErrorInfo) bool {
	return classifyCommitText(info.Code+": "+info.Message) != CommitFatal
}

func classifyCommitText(msg string) CommitClass {
	if !strings.Contains(msg, "buffer too small") && !strings.Contains(msg, "commit_empty") {
		return CommitFatal
	}
	if emptyBufferMarker.MatchString(msg) {
		return CommitBufferEmpty
	}
	return CommitTransient
}
