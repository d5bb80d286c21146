// Package mock provides a deterministic in-process LLM provider for tests and
// offline runs. Responses are selected by matching keywords in the last user
// message, so the same prompt always yields the same completion.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/entrhq/foundry/pkg/llm"
	"github.com/entrhq/foundry/pkg/llm/tokenizer"
	"github.com/entrhq/foundry/pkg/types"
)

// rule maps a prompt keyword to a canned completion.
type rule struct {
	keyword  string
	response string
}

// Provider is a deterministic llm.Provider. Safe for concurrent use.
type Provider struct {
	mu           sync.Mutex
	rules        []rule
	fallback     string
	failuresLeft int
	failErr      error
	calls        int
	count        func(string) int
}

// Option configures the mock provider.
type Option func(*Provider)

// WithResponse adds a keyword-matched canned response. Rules added later take
// precedence over the defaults but not over earlier custom rules.
func WithResponse(keyword, response string) Option {
	return func(p *Provider) {
		p.rules = append(p.rules, rule{keyword: strings.ToLower(keyword), response: response})
	}
}

// WithFallback sets the response returned when no rule matches.
func WithFallback(response string) Option {
	return func(p *Provider) {
		p.fallback = response
	}
}

// FailTimes makes the next n completions return err before recovering. Used
// to exercise retry behavior.
func FailTimes(n int, err error) Option {
	return func(p *Provider) {
		p.failuresLeft = n
		p.failErr = err
	}
}

// NewProvider creates a mock provider with a default rule set covering every
// engine role, so a full mission can run end to end offline.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{fallback: "acknowledged", count: tokenizer.EstimateTokens}
	if tok, err := tokenizer.New(); err == nil {
		p.count = tok.CountTokens
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rules = append(p.rules, defaultRules()...)
	return p
}

func defaultRules() []rule {
	return []rule{
		{keyword: "decompose this plan", response: `[
  {"task_id": "design", "role": "architect", "description": "Design the module structure"},
  {"task_id": "implement", "role": "coder", "description": "Implement the module", "depends_on": ["design"]},
  {"task_id": "test", "role": "tester", "description": "Write and run tests", "depends_on": ["implement"]},
  {"task_id": "review", "role": "critic", "description": "Review the implementation", "depends_on": ["implement"]}
]`},
		{keyword: "plan how to", response: "1. Analyze the goal and constraints\n2. Design the solution structure\n3. Implement incrementally\n4. Verify with tests\n5. Integrate and deliver"},
		{keyword: "design the architecture", response: "Module layout: one package per concern, interfaces at boundaries, constructor injection for dependencies."},
		{keyword: "implement the following", response: "package main\n\nfunc main() {\n\t// implementation\n}\n"},
		{keyword: "test the following", response: "All 12 tests passing. Coverage 87%."},
		{keyword: "review the following", response: "Approved with minor comments: naming is consistent, error paths covered."},
		{keyword: "evaluate the following", response: "The output satisfies the task criteria.\nscore: 0.9"},
		{keyword: "integrate the following", response: "Artifacts merged. Build green. Deliverable assembled."},
	}
}

// Complete returns the canned response for the first rule whose keyword
// appears in the concatenated user messages.
func (p *Provider) Complete(_ context.Context, messages []llm.Message) (*llm.Completion, error) {
	p.mu.Lock()
	p.calls++
	if p.failuresLeft > 0 {
		p.failuresLeft--
		err := p.failErr
		p.mu.Unlock()
		return nil, err
	}
	rules := p.rules
	fallback := p.fallback
	p.mu.Unlock()

	var prompt strings.Builder
	for _, msg := range messages {
		if msg.Role == "user" {
			prompt.WriteString(strings.ToLower(msg.Content))
			prompt.WriteString("\n")
		}
	}

	content := fallback
	for _, r := range rules {
		if strings.Contains(prompt.String(), r.keyword) {
			content = r.response
			break
		}
	}

	promptTokens := p.count(prompt.String())
	completionTokens := p.count(content)
	return &llm.Completion{
		Content: content,
		Usage: types.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// Model returns the mock model identifier.
func (p *Provider) Model() string {
	return "mock"
}

// Calls returns how many completions were requested, including failed ones.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
