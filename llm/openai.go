package llm

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Config configures the chat completion responder.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	MaxHistory   int
	Timeout      time.Duration
}

// OpenAIResponder produces one reply per transcript and remembers the
// conversation of each session until Forget is called.
type OpenAIResponder struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewOpenAIResponder(cfg Config, logger *slog.Logger) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIResponder{
		client:        openai.NewClientWithConfig(clientCfg),
		cfg:           cfg,
		logger:        logger.With("component", "llm"),
		conversations: make(map[string]*Conversation),
	}, nil
}

func (r *OpenAIResponder) conversation(sessionID string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[sessionID]
	if !ok {
		conv = NewConversation(r.cfg.SystemPrompt, r.cfg.MaxHistory)
		r.conversations[sessionID] = conv
	}
	return conv
}

// Forget drops the conversation of a finished session.
func (r *OpenAIResponder) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.conversations, sessionID)
	r.mu.Unlock()
}

// Generate streams a chat completion for text and returns the whole reply.
// The exchange is only recorded in the session history on success.
func (r *OpenAIResponder) Generate(ctx context.Context, sessionID, text string) (string, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	conv := r.conversation(sessionID)
	req := openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		Messages:    conv.Context(text),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Stream:      true,
	}
	r.logger.Info("Sending transcript to LLM", slog.String("session_id", sessionID), slog.String("text", preview(text)))

	stream, err := r.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "create chat completion stream")
	}
	defer stream.Close()

	reply, err := readStream(ctx, stream)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("empty llm response")
	}
	conv.Record(text, reply)
	r.logger.Info("LLM response ready", slog.String("session_id", sessionID), slog.String("text", preview(reply)))
	return reply, nil
}

func readStream(ctx context.Context, stream *openai.ChatCompletionStream) (string, error) {
	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(err, "llm stream cancelled")
		}
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), nil
		}
		if err != nil {
			return "", errors.Wrap(err, "receive llm stream")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		buf.WriteString(resp.Choices[0].Delta.Content)
	}
}

func preview(s string) string {
	const n = 50
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
