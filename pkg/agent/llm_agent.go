package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/foundry/pkg/llm"
	"github.com/entrhq/foundry/pkg/types"
)

// rolePrompts holds the system prompt and task framing per role.
var rolePrompts = map[types.Role]struct {
	system  string
	framing string
}{
	types.RolePlanner: {
		system:  "You are a planning agent. Produce a concise, numbered mission plan for the given goal.",
		framing: "Plan how to accomplish this goal",
	},
	types.RoleArchitect: {
		system:  "You are an architecture agent. Design the structure that satisfies the task.",
		framing: "Design the architecture for",
	},
	types.RoleDecomposer: {
		system:  "You are a decomposition agent. Break the plan into tasks. Respond with a JSON array of objects with fields: task_id, role, description, depends_on, input.",
		framing: "Decompose this plan into tasks",
	},
	types.RoleCoder: {
		system:  "You are a coding agent. Implement the task and return the resulting code.",
		framing: "Implement the following",
	},
	types.RoleTester: {
		system:  "You are a testing agent. Write and run tests for the task's subject.",
		framing: "Test the following",
	},
	types.RoleCritic: {
		system:  "You are a critic agent. Review the work and report issues and risks.",
		framing: "Review the following",
	},
	types.RoleEvaluator: {
		system:  "You are an evaluation agent. Score the output against the task's criteria. End with a line 'score: <0..1>'.",
		framing: "Evaluate the following",
	},
	types.RoleIntegrator: {
		system:  "You are an integration agent. Merge the task outputs into the final deliverable.",
		framing: "Integrate the following outputs",
	},
}

// LLMAgent performs tasks for one role by prompting an LLM provider.
type LLMAgent struct {
	role     types.Role
	name     string
	priority int
	provider llm.Provider
}

// NewLLMAgent creates an agent for the given role backed by the provider.
func NewLLMAgent(role types.Role, name string, priority int, provider llm.Provider) (*LLMAgent, error) {
	if _, ok := rolePrompts[role]; !ok {
		return nil, fmt.Errorf("unknown role %q: %w", role, types.ErrInvalidInput)
	}
	return &LLMAgent{role: role, name: name, priority: priority, provider: provider}, nil
}

// DefaultAgents creates one agent per role, all backed by the same provider.
func DefaultAgents(provider llm.Provider) []*LLMAgent {
	agents := make([]*LLMAgent, 0, len(types.Roles()))
	for _, role := range types.Roles() {
		a, _ := NewLLMAgent(role, string(role)+"-default", 0, provider)
		agents = append(agents, a)
	}
	return agents
}

func (a *LLMAgent) Role() types.Role { return a.role }
func (a *LLMAgent) Name() string     { return a.name }
func (a *LLMAgent) Priority() int    { return a.priority }

// Perform prompts the provider with the task input and mission context, then
// parses the completion into a role-specific payload.
func (a *LLMAgent) Perform(ctx context.Context, input map[string]interface{}, mctx *MissionContext) (*Output, error) {
	start := time.Now()

	messages, err := a.buildMessages(input, mctx)
	if err != nil {
		return nil, err
	}

	completion, err := a.provider.Complete(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if types.Retryable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%s completion: %w: %v", a.role, types.ErrGenerationFailure, err)
	}

	payload, confidence, err := a.parse(completion.Content)
	if err != nil {
		return nil, err
	}

	return &Output{
		Payload:    payload,
		Confidence: confidence,
		Usage:      completion.Usage,
		Duration:   time.Since(start),
	}, nil
}

// buildMessages assembles the prompt: system role framing, mission goal,
// relevant short-term context, then the task description and input.
func (a *LLMAgent) buildMessages(input map[string]interface{}, mctx *MissionContext) ([]llm.Message, error) {
	prompts := rolePrompts[a.role]

	var user strings.Builder
	fmt.Fprintf(&user, "%s.\n\nMission goal: %s\n", prompts.framing, mctx.Goal)

	if description, ok := input["description"].(string); ok && description != "" {
		fmt.Fprintf(&user, "\nTask: %s\n", description)
	}

	if mctx.Memory != nil {
		if plan, ok := mctx.Memory.GetShortTerm(mctx.MissionID, "plan"); ok {
			fmt.Fprintf(&user, "\nMission plan:\n%v\n", plan)
		}
	}

	for key, value := range input {
		if key == "description" {
			continue
		}
		fmt.Fprintf(&user, "\n%s: %v\n", key, value)
	}

	return []llm.Message{
		llm.NewSystemMessage(prompts.system),
		llm.NewUserMessage(user.String()),
	}, nil
}

// parse converts the completion text into the role's payload shape.
func (a *LLMAgent) parse(content string) (map[string]interface{}, float64, error) {
	switch a.role {
	case types.RoleDecomposer:
		specs, err := parseTaskSpecs(content)
		if err != nil {
			return nil, 0, err
		}
		return map[string]interface{}{"tasks": specs}, 0.9, nil

	case types.RolePlanner:
		if strings.TrimSpace(content) == "" {
			return nil, 0, fmt.Errorf("empty plan: %w", types.ErrGenerationFailure)
		}
		return map[string]interface{}{"plan": content}, 0.9, nil

	case types.RoleCritic:
		return map[string]interface{}{"review": content}, 0.85, nil

	case types.RoleEvaluator:
		score, ok := parseScore(content)
		if !ok {
			return nil, 0, fmt.Errorf("evaluation contains no score line: %w", types.ErrGenerationFailure)
		}
		return map[string]interface{}{"evaluation": content, "score": score}, 0.85, nil

	case types.RoleCoder:
		return map[string]interface{}{"code": content}, 0.8, nil

	case types.RoleIntegrator:
		return map[string]interface{}{"artifact": content}, 0.85, nil

	default:
		return map[string]interface{}{"content": content}, 0.8, nil
	}
}

// parseTaskSpecs extracts the JSON task array from a decomposer completion.
// Malformed output is an input problem for the mission, not a transient
// failure, so it maps to ErrInvalidInput.
func parseTaskSpecs(content string) ([]types.TaskSpec, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("decomposition contains no JSON array: %w", types.ErrInvalidInput)
	}

	var specs []types.TaskSpec
	if err := json.Unmarshal([]byte(content[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("malformed decomposition: %w: %v", types.ErrInvalidInput, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("decomposition produced no tasks: %w", types.ErrInvalidInput)
	}

	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("task spec missing task_id: %w", types.ErrInvalidInput)
		}
		if !spec.Role.Valid() {
			return nil, fmt.Errorf("task %s has unknown role %q: %w", spec.ID, spec.Role, types.ErrInvalidInput)
		}
	}
	return specs, nil
}

// parseScore extracts a trailing "score: <float>" line, clamped to [0, 1].
func parseScore(content string) (float64, bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if !strings.HasPrefix(line, "score:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "score:"))
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		return score, true
	}
	return 0, false
}
