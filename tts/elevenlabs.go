package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Config configures the ElevenLabs streaming client.
type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Timeout      time.Duration
}

type ElevenLabsClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type speechChunk struct {
	AudioBase64 string `json:"audio_base64"`
}

func NewElevenLabsClient(cfg Config, logger *slog.Logger) (*ElevenLabsClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabsClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "tts"),
	}, nil
}

func (c *ElevenLabsClient) endpoint() (string, error) {
	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s/stream/with-timestamps",
		c.cfg.BaseURL, url.PathEscape(c.cfg.VoiceID)))
	if err != nil {
		return "", errors.Wrap(err, "parse tts url")
	}
	q := base.Query()
	q.Set("output_format", c.cfg.OutputFormat)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Synthesize streams speech for text, calling emit with each decoded audio
// segment as it arrives. An error from emit stops the stream.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, emit func([]byte) error) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	body, err := json.Marshal(speechRequest{
		Text:          text,
		ModelID:       c.cfg.ModelID,
		VoiceSettings: voiceSettings{Stability: 0.75, SimilarityBoost: 0.7},
	})
	if err != nil {
		return errors.Wrap(err, "marshal tts payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build tts request")
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "tts request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("tts bad status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	dec := json.NewDecoder(resp.Body)
	segments := 0
	for {
		var chunk speechChunk
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrap(err, "decode tts chunk")
		}
		if chunk.AudioBase64 == "" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(chunk.AudioBase64)
		if err != nil {
			return errors.Wrap(err, "decode tts audio")
		}
		segments++
		if err := emit(audio); err != nil {
			return errors.Wrap(err, "emit tts audio")
		}
	}
	c.logger.Debug("TTS stream finished", slog.Int("segments", segments))
	return nil
}
