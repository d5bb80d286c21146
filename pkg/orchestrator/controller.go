package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/credit"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

// Controller drives single tasks to a terminal status: agent selection,
// bounded attempts, retry classification, and escalation when retries run
// out. The retry count increments on every failed attempt and the task
// escalates once it reaches MaxRetries, so MaxRetries bounds total attempts.
// Timeouts count as failed attempts. Retries reuse the task's input
// unchanged.
type Controller struct {
	cfg      *config.Config
	agents   *agent.Registry
	store    memory.Store
	registry *tools.Registry
	assigner *credit.Assigner
	perms    tools.PermissionSet
	emitter  types.EventEmitter
	traceID  string
}

// NewController wires a task controller. A nil emitter discards events.
func NewController(cfg *config.Config, agents *agent.Registry, store memory.Store,
	registry *tools.Registry, assigner *credit.Assigner, perms tools.PermissionSet,
	traceID string, emitter types.EventEmitter) *Controller {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &Controller{
		cfg:      cfg,
		agents:   agents,
		store:    store,
		registry: registry,
		assigner: assigner,
		perms:    perms,
		emitter:  emitter,
		traceID:  traceID,
	}
}

// RunTask drives the task until its status is terminal. It never returns a
// Go error: the outcome is the task's terminal status, and credit is assigned
// for it either way.
func (c *Controller) RunTask(ctx context.Context, goal string, task *types.Task) {
	start := time.Now()
	defer func() {
		c.assigner.Assign(task, time.Since(start))
	}()

	selected, err := SelectAgent(c.agents.Candidates(task.Role), c.store.AgentStats)
	if err != nil {
		c.escalate(task, fmt.Sprintf("no agent available for role %s", task.Role))
		return
	}
	task.AssignedAgent = selected.Name()
	c.emitter(types.NewEvent(types.EventAgentSelected, c.traceID, task.MissionID).
		WithTask(task.ID).
		WithRole(task.Role).
		With("agent", selected.Name()))

	for attempt := 1; ; attempt++ {
		if err := task.Transition(types.TaskRunning); err != nil {
			c.escalate(task, err.Error())
			return
		}
		c.emitState(task)

		output, performErr := c.performAttempt(ctx, goal, selected, task, attempt)
		if performErr == nil {
			c.succeed(task, output)
			return
		}

		if ctx.Err() != nil {
			task.Err = fmt.Sprintf("attempt %d interrupted: %v", attempt, ctx.Err())
			_ = task.Transition(types.TaskFailed)
			c.emitState(task)
			return
		}

		task.Err = performErr.Error()
		task.RetryCount++

		if types.Retryable(performErr) && task.RetryCount < c.cfg.Retry.MaxRetries {
			_ = task.Transition(types.TaskRetrying)
			c.emitState(task)

			if !c.sleepBeforeRetry(ctx, task.RetryCount) {
				task.Err = fmt.Sprintf("retry interrupted: %v", ctx.Err())
				_ = task.Transition(types.TaskEscalated)
				c.emitState(task)
				return
			}
			continue
		}

		c.escalate(task, performErr.Error())
		return
	}
}

// performAttempt executes one bounded attempt. A deadline hit maps to
// ErrExecution so timeouts classify as retryable failures.
func (c *Controller) performAttempt(ctx context.Context, goal string, a agent.Agent, task *types.Task, attempt int) (*agent.Output, error) {
	attemptCtx := ctx
	if c.cfg.Mission.TaskTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Mission.TaskTimeout)
		defer cancel()
	}

	input := task.Input
	if input == nil {
		input = make(map[string]interface{})
	}
	if task.Description != "" {
		merged := make(map[string]interface{}, len(input)+1)
		for k, v := range input {
			merged[k] = v
		}
		merged["description"] = task.Description
		input = merged
	}

	mctx := &agent.MissionContext{
		MissionID:      task.MissionID,
		TaskID:         task.ID,
		Goal:           goal,
		Memory:         c.store,
		Tools:          c.registry,
		Permissions:    c.perms,
		IdempotencyKey: fmt.Sprintf("%s-attempt-%d", task.ID, attempt),
	}

	output, err := a.Perform(attemptCtx, input, mctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("attempt %d timed out after %s: %w", attempt, c.cfg.Mission.TaskTimeout, types.ErrExecution)
		}
		return nil, err
	}

	if output.Usage.TotalTokens > 0 {
		c.emitter(types.NewTokenUsageEvent(c.traceID, task.MissionID, task.ID, task.Role, output.Usage))
	}
	return output, nil
}

func (c *Controller) succeed(task *types.Task, output *agent.Output) {
	task.Output = output.Payload
	task.Confidence = output.Confidence
	if score, ok := output.Payload["score"].(float64); ok {
		task.Score = score
	}
	task.Err = ""
	_ = task.Transition(types.TaskSucceeded)
	c.emitState(task)

	c.store.RecordShortTerm(task.MissionID, memory.ShortTermKey("output", task.ID), output.Payload)
}

func (c *Controller) escalate(task *types.Task, reason string) {
	task.Err = reason
	_ = task.Transition(types.TaskEscalated)
	c.emitState(task)
	c.emitter(types.NewTaskEscalatedEvent(c.traceID, task.MissionID, task.ID, task.Role, task.RetryCount, reason))
}

func (c *Controller) emitState(task *types.Task) {
	c.emitter(types.NewTaskStateChangeEvent(c.traceID, task.MissionID, task.ID, task.Role, task.Status))
}

// sleepBeforeRetry waits out the configured backoff. Returns false when the
// context was cancelled during the wait.
func (c *Controller) sleepBeforeRetry(ctx context.Context, attempt int) bool {
	delay := c.cfg.Retry.RetryDelay(attempt)
	if delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
