// Package config loads relay settings from an optional YAML file, a .env file
// and the process environment, in that order of increasing precedence.
package config

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultRealtimeURL  = "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview-2024-12-17"
	defaultCORSOrigins  = "*.lovable.app,http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173"
	defaultSystemPrompt = "Du är en hjälpsam AI-assistent. Du svarar mycket kort och formulerar dig som i ett telefonsamtal."
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP/websocket listener settings
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	CORSOrigins   string `yaml:"cors_origins"`
	DefaultWSMode string `yaml:"ws_default_mode"`
}

// RealtimeConfig contains upstream transcription settings
type RealtimeConfig struct {
	URL                string `yaml:"url"`
	APIKey             string `yaml:"api_key"`
	TranscribeModel    string `yaml:"transcribe_model"`
	InputLanguage      string `yaml:"input_language"`
	AddBetaHeader      bool   `yaml:"add_beta_header"`
	CommitIntervalMS   int    `yaml:"commit_interval_ms"`
	AudioIdleTimeoutMS int    `yaml:"audio_idle_timeout_ms"`
	CommitAckTimeoutMS int    `yaml:"commit_ack_timeout_ms"`
}

// LLMConfig contains response-generation settings
type LLMConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	SystemPrompt   string  `yaml:"system_prompt"`
	MaxHistory     int     `yaml:"max_history"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// TTSConfig contains speech-synthesis settings
type TTSConfig struct {
	APIKey         string `yaml:"api_key"`
	VoiceID        string `yaml:"voice_id"`
	ModelID        string `yaml:"model_id"`
	OutputFormat   string `yaml:"output_format"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DebugConfig bounds the in-memory session buffers
type DebugConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	MaxSessions int `yaml:"max_sessions"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8000,
			CORSOrigins:   defaultCORSOrigins,
			DefaultWSMode: "json",
		},
		Realtime: RealtimeConfig{
			URL:                defaultRealtimeURL,
			TranscribeModel:    "whisper-1",
			InputLanguage:      "sv",
			AddBetaHeader:      true,
			CommitIntervalMS:   150,
			AudioIdleTimeoutMS: 2000,
			CommitAckTimeoutMS: 1000,
		},
		LLM: LLMConfig{
			Model:          "gpt-4",
			Temperature:    0.7,
			MaxTokens:      500,
			SystemPrompt:   defaultSystemPrompt,
			MaxHistory:     10,
			TimeoutSeconds: 30,
		},
		TTS: TTSConfig{
			VoiceID:        "JBFqnCBsd6RMkjVDRZzb",
			ModelID:        "eleven_multilingual_v2",
			OutputFormat:   "mp3_44100_128",
			TimeoutSeconds: 60,
		},
		Debug: DebugConfig{
			BufferSize:  500,
			MaxSessions: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		*dst = n
		return nil
	}

	str("HOST", &c.Server.Host)
	str("CORS_ORIGINS", &c.Server.CORSOrigins)
	str("WS_DEFAULT_MODE", &c.Server.DefaultWSMode)
	str("REALTIME_URL", &c.Realtime.URL)
	str("OPENAI_API_KEY", &c.Realtime.APIKey)
	str("TRANSCRIBE_MODEL", &c.Realtime.TranscribeModel)
	str("INPUT_LANGUAGE", &c.Realtime.InputLanguage)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_SYSTEM_PROMPT", &c.LLM.SystemPrompt)
	str("ELEVENLABS_API_KEY", &c.TTS.APIKey)
	str("ELEVENLABS_VOICE_ID", &c.TTS.VoiceID)
	str("ELEVENLABS_MODEL_ID", &c.TTS.ModelID)
	str("ELEVENLABS_OUTPUT_FORMAT", &c.TTS.OutputFormat)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := os.LookupEnv("ADD_BETA_HEADER"); ok {
		c.Realtime.AddBetaHeader = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := os.LookupEnv("LLM_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return errors.Wrap(err, "invalid LLM_TEMPERATURE")
		}
		c.LLM.Temperature = float32(f)
	}

	for key, dst := range map[string]*int{
		"PORT":                  &c.Server.Port,
		"COMMIT_INTERVAL_MS":    &c.Realtime.CommitIntervalMS,
		"AUDIO_IDLE_TIMEOUT_MS": &c.Realtime.AudioIdleTimeoutMS,
		"COMMIT_ACK_TIMEOUT_MS": &c.Realtime.CommitAckTimeoutMS,
		"LLM_MAX_TOKENS":        &c.LLM.MaxTokens,
		"LLM_MAX_HISTORY":       &c.LLM.MaxHistory,
		"LLM_TIMEOUT_SECONDS":   &c.LLM.TimeoutSeconds,
		"TTS_TIMEOUT_SECONDS":   &c.TTS.TimeoutSeconds,
		"DEBUG_BUFFER_SIZE":     &c.Debug.BufferSize,
		"DEBUG_MAX_SESSIONS":    &c.Debug.MaxSessions,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	// The LLM shares the realtime key unless configured separately.
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.Realtime.APIKey
	}
	return nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "server config")
	}
	if err := c.Realtime.Validate(); err != nil {
		return errors.Wrap(err, "realtime config")
	}
	if err := c.LLM.Validate(); err != nil {
		return errors.Wrap(err, "llm config")
	}
	if err := c.Debug.Validate(); err != nil {
		return errors.Wrap(err, "debug config")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging config")
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	mode := strings.ToLower(s.DefaultWSMode)
	if mode != "json" && mode != "text" {
		return errors.Errorf("ws_default_mode must be 'json' or 'text', got '%s'", s.DefaultWSMode)
	}
	s.DefaultWSMode = mode
	return nil
}

// Validate validates realtime configuration
func (r *RealtimeConfig) Validate() error {
	if r.URL == "" {
		return errors.New("url cannot be empty")
	}
	if !strings.HasPrefix(r.URL, "ws://") && !strings.HasPrefix(r.URL, "wss://") {
		return errors.Errorf("url must use ws:// or wss://, got %q", r.URL)
	}
	if r.AudioIdleTimeoutMS < 1 {
		return errors.Errorf("audio_idle_timeout_ms must be positive, got %d", r.AudioIdleTimeoutMS)
	}
	if r.CommitAckTimeoutMS < 0 {
		return errors.Errorf("commit_ack_timeout_ms cannot be negative, got %d", r.CommitAckTimeoutMS)
	}
	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.Temperature < 0 || l.Temperature > 2 {
		return errors.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}
	if l.MaxHistory < 0 {
		return errors.Errorf("max_history cannot be negative, got %d", l.MaxHistory)
	}
	if l.TimeoutSeconds < 1 {
		return errors.Errorf("timeout_seconds must be at least 1, got %d", l.TimeoutSeconds)
	}
	return nil
}

// Validate validates debug buffer configuration
func (d *DebugConfig) Validate() error {
	if d.BufferSize < 1 {
		return errors.Errorf("buffer_size must be at least 1, got %d", d.BufferSize)
	}
	if d.MaxSessions < 1 {
		return errors.Errorf("max_sessions must be at least 1, got %d", d.MaxSessions)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return errors.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return errors.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// CommitInterval returns the commit tick, never below 1ms.
func (r *RealtimeConfig) CommitInterval() time.Duration {
	d := time.Duration(r.CommitIntervalMS) * time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// AudioIdleTimeout returns how long after the last chunk pending audio is considered stale.
func (r *RealtimeConfig) AudioIdleTimeout() time.Duration {
	return time.Duration(r.AudioIdleTimeoutMS) * time.Millisecond
}

// CommitAckTimeout returns how long a commit waits for acknowledgement.
func (r *RealtimeConfig) CommitAckTimeout() time.Duration {
	return time.Duration(r.CommitAckTimeoutMS) * time.Millisecond
}

// Timeout returns the response-generation timeout.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Timeout returns the synthesis request timeout.
func (t *TTSConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// DownstreamEnabled reports whether both collaborators have credentials.
func (c *Config) DownstreamEnabled() bool {
	return c.LLM.APIKey != "" && c.TTS.APIKey != ""
}

// CORSOriginList splits the configured origins into exact origins and a
// pattern for wildcard entries such as "*.lovable.app".
func (s *ServerConfig) CORSOriginList() (origins []string, wildcards []string) {
	for _, part := range strings.Split(s.CORSOrigins, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "*") {
			wildcards = append(wildcards, part)
			continue
		}
		origins = append(origins, part)
	}
	return origins, wildcards
}

// CORSRegex returns an origin pattern covering the wildcard entries, or "".
// "*.lovable.app" becomes https://.*lovable\.app.
func (s *ServerConfig) CORSRegex() string {
	_, wildcards := s.CORSOriginList()
	var parts []string
	for _, w := range wildcards {
		escaped := strings.ReplaceAll(regexp.QuoteMeta(w), `\*\.`, ".*")
		escaped = strings.ReplaceAll(escaped, `\*`, ".*")
		if strings.HasPrefix(w, "*.") {
			escaped = "https://" + escaped
		}
		parts = append(parts, escaped)
	}
	return strings.Join(parts, "|")
}
