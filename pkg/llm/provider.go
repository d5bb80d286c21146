// Package llm provides the LLM provider abstraction used by agents.
//
// Providers handle API communication with LLM services and return a single
// Completion per call. Agents own prompting, parsing, and error
// classification; providers stay focused on transport so they remain
// reusable in non-agent contexts and trivially swappable with the mock.
package llm

import (
	"context"

	"github.com/entrhq/foundry/pkg/types"
)

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// Completion is the provider's full response to one request.
type Completion struct {
	// Content is the assistant's response text.
	Content string

	// Usage holds token counts when the provider reports them; estimated
	// otherwise.
	Usage types.TokenUsage
}

// Provider defines the interface for LLM integrations. Implementations must
// be safe for concurrent use; the scheduler calls Complete from multiple
// workers.
type Provider interface {
	// Complete sends messages to the LLM and returns the full response.
	// The context bounds the call; cancellation aborts the request.
	Complete(ctx context.Context, messages []Message) (*Completion, error)

	// Model returns the model identifier completions are served by.
	Model() string
}
