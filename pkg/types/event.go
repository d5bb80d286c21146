package types

import "time"

// EventKind defines the type of structured event emitted by the engine.
type EventKind string

const (
	EventPhaseTransition   EventKind = "phase_transition"   // EventPhaseTransition indicates the mission state machine changed state.
	EventTaskStateChange   EventKind = "task_state_change"  // EventTaskStateChange indicates a task moved to a new status.
	EventAgentSelected     EventKind = "agent_selected"     // EventAgentSelected indicates the policy chose an agent for a role.
	EventApprovalRequested EventKind = "approval_requested" // EventApprovalRequested indicates a milestone approval is pending.
	EventApprovalResolved  EventKind = "approval_resolved"  // EventApprovalResolved indicates an approver decided a milestone.
	EventTaskEscalated     EventKind = "task_escalated"     // EventTaskEscalated indicates retries were exhausted for a task.
	EventToolInvoked       EventKind = "tool_invoked"       // EventToolInvoked indicates a tool invocation completed (any outcome).
	EventRollback          EventKind = "rollback"           // EventRollback indicates a tool invocation was rolled back.
	EventCreditAssigned    EventKind = "credit_assigned"    // EventCreditAssigned indicates an outcome record was appended to long-term memory.
	EventTokenUsage        EventKind = "token_usage"        // EventTokenUsage carries token counts from an LLM completion.
	EventMissionCompleted  EventKind = "mission_completed"  // EventMissionCompleted indicates the mission reached a terminal state.
)

// Event is the structured record the engine emits to the observability sink.
// The engine defines only this shape; storage and formatting belong to the
// consumer.
type Event struct {
	// TraceID correlates all events of one mission execution.
	TraceID string

	// MissionID identifies the mission the event belongs to.
	MissionID string

	// TaskID identifies the task, when the event is task-scoped.
	TaskID string

	// AgentRole is the role involved, when the event is agent-scoped.
	AgentRole Role

	// Kind indicates the kind of event.
	Kind EventKind

	// Payload holds kind-specific fields.
	Payload map[string]interface{}

	// Timestamp is when the event was emitted.
	Timestamp time.Time
}

// EventEmitter is a function type for emitting events. A nil-safe no-op
// emitter is used when the caller does not provide one.
type EventEmitter func(event *Event)

// NopEmitter discards all events.
func NopEmitter(*Event) {}

// NewEvent creates an event with the timestamp set.
func NewEvent(kind EventKind, traceID, missionID string) *Event {
	return &Event{
		TraceID:   traceID,
		MissionID: missionID,
		Kind:      kind,
		Payload:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithTask sets the task scope and returns the event for chaining.
func (e *Event) WithTask(taskID string) *Event {
	e.TaskID = taskID
	return e
}

// WithRole sets the agent role scope and returns the event for chaining.
func (e *Event) WithRole(role Role) *Event {
	e.AgentRole = role
	return e
}

// With adds a payload field and returns the event for chaining.
func (e *Event) With(key string, value interface{}) *Event {
	if e.Payload == nil {
		e.Payload = make(map[string]interface{})
	}
	e.Payload[key] = value
	return e
}

// NewPhaseTransitionEvent creates a phase transition event.
func NewPhaseTransitionEvent(traceID, missionID string, from, to MissionState) *Event {
	return NewEvent(EventPhaseTransition, traceID, missionID).
		With("from", string(from)).
		With("to", string(to))
}

// NewTaskStateChangeEvent creates a task state change event.
func NewTaskStateChangeEvent(traceID, missionID, taskID string, role Role, status TaskStatus) *Event {
	return NewEvent(EventTaskStateChange, traceID, missionID).
		WithTask(taskID).
		WithRole(role).
		With("status", string(status))
}

// NewApprovalRequestedEvent creates an approval requested event.
func NewApprovalRequestedEvent(traceID, missionID string, milestone Milestone, handleID string) *Event {
	return NewEvent(EventApprovalRequested, traceID, missionID).
		With("milestone", string(milestone)).
		With("handle_id", handleID)
}

// NewApprovalResolvedEvent creates an approval resolved event.
func NewApprovalResolvedEvent(traceID, missionID string, milestone Milestone, approved bool, notes string) *Event {
	return NewEvent(EventApprovalResolved, traceID, missionID).
		With("milestone", string(milestone)).
		With("approved", approved).
		With("notes", notes)
}

// NewTaskEscalatedEvent creates a task escalation event.
func NewTaskEscalatedEvent(traceID, missionID, taskID string, role Role, retries int, reason string) *Event {
	return NewEvent(EventTaskEscalated, traceID, missionID).
		WithTask(taskID).
		WithRole(role).
		With("retries", retries).
		With("reason", reason)
}

// NewMissionCompletedEvent creates a mission completed event.
func NewMissionCompletedEvent(traceID, missionID string, status MissionStatus, reason string) *Event {
	return NewEvent(EventMissionCompleted, traceID, missionID).
		With("status", string(status)).
		With("reason", reason)
}

// TokenUsage contains token usage statistics from an LLM completion.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the input/prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens in the generated response.
	CompletionTokens int

	// TotalTokens is the total number of tokens used (prompt + completion).
	TotalTokens int
}

// NewTokenUsageEvent creates a token usage event.
func NewTokenUsageEvent(traceID, missionID, taskID string, role Role, usage TokenUsage) *Event {
	return NewEvent(EventTokenUsage, traceID, missionID).
		WithTask(taskID).
		WithRole(role).
		With("prompt_tokens", usage.PromptTokens).
		With("completion_tokens", usage.CompletionTokens).
		With("total_tokens", usage.TotalTokens)
}
