// Package tokenizer provides client-side token counting for prompt budgeting
// and usage metrics.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/foundry/pkg/llm"
)

// messageOverheadTokens approximates the per-message framing tokens the chat
// completion format adds around each message's content.
const messageOverheadTokens = 4

// Tokenizer counts tokens using the cl100k_base encoding. Counts are
// approximate for non-OpenAI models but consistent, which is what budgeting
// and metrics need.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer. It fails only when the encoding data cannot be
// loaded; callers typically fall back to EstimateTokens then.
func New() (*Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding: %w", err)
	}
	return &Tokenizer{encoding: encoding}, nil
}

// CountTokens returns the token count of a single text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessagesTokens returns the token count of a full message list,
// including per-message framing overhead.
func (t *Tokenizer) CountMessagesTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += t.CountTokens(msg.Role)
		total += t.CountTokens(msg.Content)
	}
	return total
}

// EstimateTokens approximates a token count without an encoding, at roughly
// four characters per token. Used when New fails.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
