package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrsingh-rishi/voice-relay/debugstore"
	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/output"
	"github.com/mrsingh-rishi/voice-relay/stt"
	"github.com/mrsingh-rishi/voice-relay/types"
	"github.com/mrsingh-rishi/voice-relay/workers"
)

// State is the lifecycle phase of a session.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errClientGone = errors.New("client disconnected")

// Link is the upstream transcription connection of one session.
type Link interface {
	Connect(ctx context.Context) error
	SendAudioChunk(chunk model.AudioChunk) error
	Commit(ctx context.Context) error
	RecvLoop(ctx context.Context, onEvent func(stt.Event) error) error
	Close() error
}

// LinkFactory opens a new, unconnected Link.
type LinkFactory func(logger *slog.Logger) (Link, error)

// Forgetter is implemented by responders that keep per-session history.
type Forgetter interface {
	Forget(sessionID string)
}

// Deps are the process-wide collaborators shared by all sessions.
// Responder and Synthesizer are optional; without both no replies are produced.
type Deps struct {
	NewLink          LinkFactory
	Store            *debugstore.Store
	Responder        workers.Responder
	Synthesizer      workers.Synthesizer
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	CommitInterval   time.Duration
	AudioIdleTimeout time.Duration
}

// Session relays one client connection to the upstream transcription service
// and, on final transcripts, back out as a spoken reply.
type Session struct {
	id      string
	deps    Deps
	conn    output.Conn
	out     *output.ClientOutput
	state   *model.State
	buffers *debugstore.SessionBuffers
	logger  *slog.Logger
	phase   atomic.Int32

	link      Link
	responses *workers.ResponseWorker
}

func NewSession(conn output.Conn, mode output.Mode, deps Deps) (*Session, error) {
	if deps.NewLink == nil {
		return nil, fmt.Errorf("link factory is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.AudioIdleTimeout <= 0 {
		deps.AudioIdleTimeout = 2 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	out, err := output.NewClientOutput(conn, mode)
	if err != nil {
		return nil, err
	}
	id, buffers := deps.Store.NewSession()
	return &Session{
		id:      id,
		deps:    deps,
		conn:    conn,
		out:     out,
		state:   model.NewState(),
		buffers: buffers,
		logger:  deps.Logger.With(slog.String("session_id", id)),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.phase.Load()) }

// LastText returns the most recent full transcript of the session.
func (s *Session) LastText() string { return s.state.LastText() }

func (s *Session) downstreamEnabled() bool {
	return s.deps.Responder != nil && s.deps.Synthesizer != nil
}

// Run drives the session until the client leaves or either leg fails. It
// returns nil for an ordinary client disconnect.
func (s *Session) Run(ctx context.Context) error {
	s.phase.Store(int32(StateHandshaking))
	if m := s.deps.Metrics; m != nil {
		m.SessionsStarted.Inc()
		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()
	}
	defer s.close()

	s.logger.Info("Session started", slog.String("mode", string(s.out.Mode())))
	s.send(types.NewReady())
	s.send(types.SessionStarted{Type: types.TypeSessionStarted, SessionID: s.id})

	if err := s.connect(ctx); err != nil {
		s.logger.Error("Realtime connect failed", slog.String("error", err.Error()))
		if m := s.deps.Metrics; m != nil {
			m.ConnectFailures.Inc()
		}
		detail, _ := json.Marshal(err.Error())
		s.send(types.Error{Type: types.TypeError, Reason: types.ReasonRealtimeConnectFailed, Detail: detail})
		return err
	}

	if s.downstreamEnabled() {
		rw, err := workers.NewResponseWorker(s.id, s.deps.Responder, s.deps.Synthesizer, s.out,
			s.logger.With(slog.String("component", "responses")), s.deps.Metrics)
		if err != nil {
			return err
		}
		s.responses = rw
	}
	commits, err := workers.NewCommitWorker(s.link, s.state, s.deps.CommitInterval, s.deps.AudioIdleTimeout,
		s.logger.With(slog.String("component", "commits")), s.deps.Metrics)
	if err != nil {
		return err
	}

	s.phase.Store(int32(StateActive))
	err = s.runActive(ctx, commits)
	if errors.Is(err, errClientGone) {
		return nil
	}
	return err
}

func (s *Session) connect(ctx context.Context) error {
	link, err := s.deps.NewLink(s.logger.With(slog.String("component", "realtime")))
	if err != nil {
		return err
	}
	if err := link.Connect(ctx); err != nil {
		return err
	}
	s.link = link
	return nil
}

func (s *Session) runActive(ctx context.Context, commits *workers.CommitWorker) error {
	g, gctx := errgroup.WithContext(ctx)

	s.goTask(g, "inbound", func() error { return s.inboundLoop(gctx) })
	s.goTask(g, "commits", func() error { return commits.Run(gctx) })
	s.goTask(g, "realtime", func() error { return s.link.RecvLoop(gctx, s.onEvent) })
	if s.responses != nil {
		s.goTask(g, "responses", func() error { return s.responses.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks the inbound read once any task has ended.
		_ = s.conn.SetReadDeadline(time.Now())
		return nil
	})

	return g.Wait()
}

func (s *Session) goTask(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() error {
		err := fn()
		if s.phase.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
			attrs := []any{slog.String("task", name)}
			if err != nil {
				attrs = append(attrs, slog.String("reason", err.Error()))
			}
			s.logger.Info("Session draining", attrs...)
		}
		return err
	})
}

func (s *Session) close() {
	s.phase.CompareAndSwap(int32(StateActive), int32(StateDraining))
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.logger.Debug("Realtime close failed", slog.String("error", err.Error()))
		}
	}
	if f, ok := s.deps.Responder.(Forgetter); ok {
		f.Forget(s.id)
	}
	if err := s.out.Close(); err != nil {
		s.logger.Debug("Client close failed", slog.String("error", err.Error()))
	}
	s.phase.Store(int32(StateClosed))
	s.logger.Info("Session closed")
}

func (s *Session) inboundLoop(ctx context.Context) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Debug("Client read ended", slog.String("error", err.Error()))
			return errClientGone
		}

		switch messageType {
		case output.BinaryMessage:
			if err := s.forwardAudio(model.AudioChunk(data)); err != nil {
				return err
			}
		case output.TextMessage:
			if string(data) == "ping" {
				if err := s.out.SendText("pong"); err != nil {
					return errClientGone
				}
			}
		}
	}
}

func (s *Session) forwardAudio(chunk model.AudioChunk) error {
	s.buffers.FrontendChunks.Enqueue(len(chunk))
	if err := s.link.SendAudioChunk(chunk); err != nil {
		s.logger.Error("Failed to forward audio chunk", slog.String("error", err.Error()))
		if m := s.deps.Metrics; m != nil {
			m.AudioSendFails.Inc()
		}
		return fmt.Errorf("forward audio: %w", err)
	}
	s.buffers.OpenAIChunks.Enqueue(len(chunk))
	s.state.MarkAudio(time.Now())
	if m := s.deps.Metrics; m != nil {
		m.AudioChunksIn.Inc()
		m.AudioBytesIn.Add(float64(len(chunk)))
	}
	return nil
}

// onEvent handles upstream events in arrival order.
func (s *Session) onEvent(evt stt.Event) error {
	s.buffers.RTEvents.Enqueue(evt.Type)
	if m := s.deps.Metrics; m != nil {
		m.UpstreamEvents.WithLabelValues(evt.Type).Inc()
	}
	if evt.AckedCommit || evt.CommitRejection {
		return nil
	}

	te, ok := stt.Normalize(evt, s.state.LastText())
	if !ok {
		return nil
	}
	switch te.Kind {
	case stt.KindError:
		s.logger.Warn("Realtime error", slog.String("detail", string(te.Detail)))
		return s.out.SendJSON(types.Error{Type: types.TypeError, Reason: types.ReasonRealtimeError, Detail: te.Detail})
	case stt.KindInfo:
		return s.out.SendJSON(types.Info{Type: types.TypeInfo, Msg: te.Message})
	default:
		return s.relayTranscript(te)
	}
}

func (s *Session) relayTranscript(te stt.TranscriptEvent) error {
	final := te.Kind == stt.KindFinal
	if te.Delta == "" && !final {
		return nil
	}
	if te.Delta != "" {
		s.buffers.OpenAIText.Enqueue(te.Text)
		s.buffers.FrontendText.Enqueue(te.Delta)
		s.state.SetLastText(te.Text)
	}

	if s.out.JSONMode() {
		msgType := types.TypePartial
		if final {
			msgType = types.TypeFinal
		}
		if err := s.out.SendJSON(types.Transcript{Type: msgType, Text: te.Text}); err != nil {
			return err
		}
	} else if te.Delta != "" {
		if err := s.out.SendText(te.Delta); err != nil {
			return err
		}
	}

	text := strings.TrimSpace(te.Text)
	if !final || text == "" || s.responses == nil {
		return nil
	}
	s.logger.Info("Final transcript", slog.String("text", text))
	if err := s.out.SendJSON(types.Transcript{Type: types.TypeProcessing, Text: text}); err != nil {
		return err
	}
	s.responses.Enqueue(text)
	return nil
}

func (s *Session) send(v any) {
	if err := s.out.SendJSON(v); err != nil {
		s.logger.Debug("Failed to send client message", slog.String("error", err.Error()))
	}
}
