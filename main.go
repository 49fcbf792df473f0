package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mrsingh-rishi/voice-relay/call"
	"github.com/mrsingh-rishi/voice-relay/config"
	"github.com/mrsingh-rishi/voice-relay/debugstore"
	"github.com/mrsingh-rishi/voice-relay/llm"
	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/server"
	"github.com/mrsingh-rishi/voice-relay/stt"
	"github.com/mrsingh-rishi/voice-relay/tts"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	m := metrics.NewMetrics()
	store, err := debugstore.NewStore(cfg.Debug.MaxSessions, cfg.Debug.BufferSize)
	if err != nil {
		log.Fatalf("Failed to create session store: %v", err)
	}

	rt := cfg.Realtime
	deps := call.Deps{
		NewLink: func(l *slog.Logger) (call.Link, error) {
			return stt.NewClient(stt.Config{
				URL:              rt.URL,
				APIKey:           rt.APIKey,
				Model:            rt.TranscribeModel,
				Language:         rt.InputLanguage,
				AddBetaHeader:    rt.AddBetaHeader,
				CommitAckTimeout: rt.CommitAckTimeout(),
			}, l)
		},
		Store:            store,
		Metrics:          m,
		Logger:           logger,
		CommitInterval:   rt.CommitInterval(),
		AudioIdleTimeout: rt.AudioIdleTimeout(),
	}
	if rt.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; upstream handshakes will be rejected")
	}

	var speech *tts.ElevenLabsClient
	if cfg.TTS.APIKey != "" {
		speech, err = tts.NewElevenLabsClient(tts.Config{
			APIKey:       cfg.TTS.APIKey,
			VoiceID:      cfg.TTS.VoiceID,
			ModelID:      cfg.TTS.ModelID,
			OutputFormat: cfg.TTS.OutputFormat,
			Timeout:      cfg.TTS.Timeout(),
		}, logger.With(slog.String("component", "tts")))
		if err != nil {
			log.Fatalf("Failed to create TTS client: %v", err)
		}
	}

	if cfg.DownstreamEnabled() {
		responder, err := llm.NewOpenAIResponder(llm.Config{
			APIKey:       cfg.LLM.APIKey,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
			SystemPrompt: cfg.LLM.SystemPrompt,
			MaxHistory:   cfg.LLM.MaxHistory,
			Timeout:      cfg.LLM.Timeout(),
		}, logger.With(slog.String("component", "llm")))
		if err != nil {
			log.Fatalf("Failed to create LLM responder: %v", err)
		}
		deps.Responder = responder
		deps.Synthesizer = speech
		logger.Info("Spoken replies enabled",
			slog.String("llm_model", cfg.LLM.Model),
			slog.String("voice_id", cfg.TTS.VoiceID),
		)
	} else {
		logger.Info("Spoken replies disabled; set OPENAI_API_KEY and ELEVENLABS_API_KEY to enable")
	}

	var srv *server.Server
	if speech != nil {
		srv, err = server.New(cfg, deps, speech, logger)
	} else {
		srv, err = server.New(cfg, deps, nil, logger)
	}
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := srv.Listen(); err != nil {
			logger.Error("Server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", slog.String("signal", sig.String()))

	if err := srv.Shutdown(10 * time.Second); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("Relay stopped")
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
