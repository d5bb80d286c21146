// Package agent defines the agent abstraction and the LLM-backed role agents
// that perform mission tasks.
//
// Agents are stateless between tasks: everything they need arrives through
// the task input and the mission context, and everything they produce leaves
// through the returned Output. Persistent learning lives in long-term memory,
// written by credit assignment, never by agents themselves.
package agent

import (
	"context"
	"time"

	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

// Output is the result of one agent performing one task.
type Output struct {
	// Payload is the role-specific output, merged into the task record.
	Payload map[string]interface{}

	// Confidence is the agent's self-reported confidence in [0, 1].
	Confidence float64

	// Usage holds the token counts consumed producing the output.
	Usage types.TokenUsage

	// Duration is how long the task took.
	Duration time.Duration
}

// MissionContext is the read-mostly environment an agent performs in. Agents
// read short-term memory and invoke tools through it; they never write
// long-term memory.
type MissionContext struct {
	MissionID string
	TaskID    string

	// Goal is the original mission goal text.
	Goal string

	// Memory provides short-term reads for mission context.
	Memory memory.Store

	// Tools mediates tool invocations.
	Tools *tools.Registry

	// Permissions is the permission set tool invocations run under.
	Permissions tools.PermissionSet

	// IdempotencyKey scopes tool deduplication to the current attempt.
	IdempotencyKey string
}

// Agent performs tasks for one role. Implementations must be safe for
// concurrent use; the scheduler may run one agent on several tasks at once.
type Agent interface {
	// Role returns the role this agent serves.
	Role() types.Role

	// Name returns the unique agent identifier used for credit assignment.
	Name() string

	// Priority is the declared tie-break rank; lower is preferred.
	Priority() int

	// Perform executes one task. Transient failures are reported as
	// ErrGenerationFailure wraps, malformed inputs as ErrInvalidInput.
	Perform(ctx context.Context, input map[string]interface{}, mctx *MissionContext) (*Output, error)
}
