package llm

import (
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// Conversation keeps the system prompt and the recent exchanges of one session.
type Conversation struct {
	mu         sync.Mutex
	system     string
	maxHistory int
	messages   []openai.ChatCompletionMessage
}

// NewConversation keeps at most maxHistory user/assistant exchanges.
func NewConversation(systemPrompt string, maxHistory int) *Conversation {
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Conversation{system: systemPrompt, maxHistory: maxHistory}
}

// Context returns the messages to send for a new user turn: the system prompt,
// the retained history and the turn itself.
func (c *Conversation) Context(userText string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]openai.ChatCompletionMessage, 0, len(c.messages)+2)
	if c.system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	out = append(out, c.messages...)
	return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: strings.TrimSpace(userText)})
}

// Record appends a completed exchange and trims the history window.
func (c *Conversation) Record(userText, assistantText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: strings.TrimSpace(userText)},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: strings.TrimSpace(assistantText)},
	)
	if limit := c.maxHistory * 2; len(c.messages) > limit {
		c.messages = append([]openai.ChatCompletionMessage(nil), c.messages[len(c.messages)-limit:]...)
	}
}
