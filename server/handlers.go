package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mrsingh-rishi/voice-relay/debugstore"
	"github.com/mrsingh-rishi/voice-relay/queue"
)

const (
	defaultLogLimit = 200
	maxChunkLimit   = 1000
	maxTextLimit    = 2000
)

type configOut struct {
	RealtimeURL      string   `json:"realtime_url"`
	TranscribeModel  string   `json:"transcribe_model"`
	InputLanguage    string   `json:"input_language"`
	CommitIntervalMS int      `json:"commit_interval_ms"`
	CORSOrigins      []string `json:"cors_origins"`
	CORSRegex        *string  `json:"cors_regex"`
}

type debugListOut[T any] struct {
	SessionID string `json:"session_id"`
	Data      []T    `json:"data"`
}

func frontendChunks(b *debugstore.SessionBuffers) *queue.Queue[int]  { return b.FrontendChunks }
func openAIChunks(b *debugstore.SessionBuffers) *queue.Queue[int]    { return b.OpenAIChunks }
func openAIText(b *debugstore.SessionBuffers) *queue.Queue[string]   { return b.OpenAIText }
func frontendText(b *debugstore.SessionBuffers) *queue.Queue[string] { return b.FrontendText }
func rtEvents(b *debugstore.SessionBuffers) *queue.Queue[string]     { return b.RTEvents }

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	origins, _ := s.cfg.Server.CORSOriginList()
	if origins == nil {
		origins = []string{}
	}
	out := configOut{
		RealtimeURL:      s.cfg.Realtime.URL,
		TranscribeModel:  s.cfg.Realtime.TranscribeModel,
		InputLanguage:    s.cfg.Realtime.InputLanguage,
		CommitIntervalMS: s.cfg.Realtime.CommitIntervalMS,
		CORSOrigins:      origins,
	}
	if re := s.cfg.Server.CORSRegex(); re != "" {
		out.CORSRegex = &re
	}
	return c.JSON(out)
}

func unprocessable(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": msg})
}

// debugLog serves the most recent entries of one session log. Unknown
// sessions yield an empty list and are not created.
func debugLog[T any](store *debugstore.Store, maxLimit int, pick func(*debugstore.SessionBuffers) *queue.Queue[T]) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			return unprocessable(c, "session_id is required")
		}
		limit := defaultLogLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxLimit {
				return unprocessable(c, "limit must be between 1 and "+strconv.Itoa(maxLimit))
			}
			limit = n
		}

		data := []T{}
		if buf, ok := store.Get(sessionID); ok {
			data = pick(buf).Last(limit)
		}
		return c.JSON(debugListOut[T]{SessionID: sessionID, Data: data})
	}
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	sessions := s.deps.Store.List()
	if sessions == nil {
		sessions = []string{}
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	id := c.Query("session_id")
	s.deps.Store.Reset(id)
	var sessionID *string
	if id != "" {
		sessionID = &id
	}
	return c.JSON(fiber.Map{"ok": true, "session_id": sessionID})
}
