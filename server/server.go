package server

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrsingh-rishi/voice-relay/call"
	"github.com/mrsingh-rishi/voice-relay/config"
	"github.com/mrsingh-rishi/voice-relay/output"
	"github.com/mrsingh-rishi/voice-relay/workers"
)

// Server is the relay's HTTP and websocket front end.
type Server struct {
	app    *fiber.App
	cfg    *config.Config
	deps   call.Deps
	speech workers.Synthesizer
	logger *slog.Logger

	// ctx is cancelled on shutdown so open sessions drain.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the fiber app. deps must carry the session store and metrics;
// speech serves /ws/tts and may be nil.
func New(cfg *config.Config, deps call.Deps, speech workers.Synthesizer, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "voice-relay",
			DisableStartupMessage: true,
		}),
		cfg:    cfg,
		deps:   deps,
		speech: speech,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.setupRoutes(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) setupRoutes() error {
	corsMW, err := s.corsMiddleware()
	if err != nil {
		return err
	}
	s.app.Use(corsMW)
	s.app.Use(s.withMetrics)

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/config", s.handleConfig)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})))

	debug := s.app.Group("/debug")
	debug.Get("/frontend-chunks", debugLog(s.deps.Store, maxChunkLimit, frontendChunks))
	debug.Get("/openai-chunks", debugLog(s.deps.Store, maxChunkLimit, openAIChunks))
	debug.Get("/openai-text", debugLog(s.deps.Store, maxTextLimit, openAIText))
	debug.Get("/frontend-text", debugLog(s.deps.Store, maxTextLimit, frontendText))
	debug.Get("/rt-events", debugLog(s.deps.Store, maxTextLimit, rtEvents))
	debug.Get("/sessions", s.handleSessions)
	debug.Post("/reset", s.handleReset)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/transcribe", websocket.New(s.handleTranscribe))
	s.app.Get("/ws/tts", websocket.New(s.handleSpeech))
	s.app.Get("/ws", websocket.New(s.handleTranscribe))
	return nil
}

func (s *Server) corsMiddleware() (fiber.Handler, error) {
	origins, _ := s.cfg.Server.CORSOriginList()
	cfg := cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "*",
		AllowCredentials: len(origins) > 0,
	}
	if pattern := s.cfg.Server.CORSRegex(); pattern != "" {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile cors pattern: %w", err)
		}
		cfg.AllowOriginsFunc = re.MatchString
	}
	return cors.New(cfg), nil
}

func (s *Server) withMetrics(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
	}
	route := c.Route().Path
	s.deps.Metrics.RecordHTTPRequest(c.Method(), route, status, time.Since(start).Seconds())
	return err
}

func (s *Server) handleTranscribe(ws *websocket.Conn) {
	mode := output.ParseMode(ws.Query("mode"), output.Mode(s.cfg.Server.DefaultWSMode))
	session, err := call.NewSession(ws, mode, s.deps)
	if err != nil {
		s.logger.Error("Failed to create session", slog.String("error", err.Error()))
		_ = ws.Close()
		return
	}
	if err := session.Run(s.ctx); err != nil {
		s.logger.Warn("Session ended with error",
			slog.String("session_id", session.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) handleSpeech(ws *websocket.Conn) {
	session, err := call.NewSpeechSession(ws, s.speech, s.deps.Metrics, s.logger.With(slog.String("component", "tts_ws")))
	if err != nil {
		s.logger.Error("Failed to create TTS session", slog.String("error", err.Error()))
		_ = ws.Close()
		return
	}
	session.Run(s.ctx)
}

// Listen serves on the configured host and port until Shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("Relay listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown drains open sessions and stops the listener.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.cancel()
	return s.app.ShutdownWithTimeout(timeout)
}
