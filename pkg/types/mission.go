package types

import (
	"time"
)

// MissionStatus is the coarse, externally visible status of a mission.
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"     // MissionPending means the mission has been defined but not started.
	MissionInProgress MissionStatus = "in_progress" // MissionInProgress means at least one phase is running.
	MissionBlocked    MissionStatus = "blocked"     // MissionBlocked means the mission is suspended on a pending approval.
	MissionSucceeded  MissionStatus = "succeeded"   // MissionSucceeded means every task succeeded and all milestones were approved.
	MissionFailed     MissionStatus = "failed"      // MissionFailed means a phase or policy decision terminated the mission.
	MissionAborted    MissionStatus = "aborted"     // MissionAborted means the mission was cancelled externally.
)

// Terminal reports whether the status is final. A mission record is
// immutable once its status is terminal.
func (s MissionStatus) Terminal() bool {
	return s == MissionSucceeded || s == MissionFailed || s == MissionAborted
}

// MissionState is a state of the mission lifecycle state machine. States are
// finer grained than MissionStatus: several states map to the same status.
type MissionState string

const (
	StateCreated                  MissionState = "created"
	StatePlanning                 MissionState = "planning"
	StateAwaitingPlanApproval     MissionState = "awaiting_plan_approval"
	StateDecomposing              MissionState = "decomposing"
	StateExecuting                MissionState = "executing"
	StateIntegrating              MissionState = "integrating"
	StateAwaitingDeliveryApproval MissionState = "awaiting_delivery_approval"
	StateSucceeded                MissionState = "succeeded"
	StateFailed                   MissionState = "failed"
	StateAborted                  MissionState = "aborted"
)

// Terminal reports whether the state is final.
func (s MissionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// Status maps a lifecycle state to its externally visible mission status.
func (s MissionState) Status() MissionStatus {
	switch s {
	case StateCreated:
		return MissionPending
	case StateAwaitingPlanApproval, StateAwaitingDeliveryApproval:
		return MissionBlocked
	case StateSucceeded:
		return MissionSucceeded
	case StateFailed:
		return MissionFailed
	case StateAborted:
		return MissionAborted
	default:
		return MissionInProgress
	}
}

// PhaseResult records the output of one completed mission phase.
type PhaseResult struct {
	// Phase is the lifecycle state the output was produced in.
	Phase MissionState

	// Output holds the phase's artifact (plan, task graph, per-task outputs,
	// integrated artifact) keyed by artifact name.
	Output map[string]interface{}

	// CompletedAt is when the phase finished.
	CompletedAt time.Time
}

// Mission is one end-to-end request to turn a goal into a delivered artifact.
// Its mutable state is owned exclusively by the orchestrator driving it.
type Mission struct {
	// ID uniquely identifies the mission.
	ID string

	// Goal is the original, unmodified goal text.
	Goal string

	// State is the current lifecycle state.
	State MissionState

	// Phases holds the ordered results of completed phases.
	Phases []PhaseResult

	// Reason carries a human-readable explanation for failed or aborted missions.
	Reason string

	// PartialRollback is set when an abort could not fully unwind tool effects.
	PartialRollback bool

	// CreatedAt is when the mission was submitted.
	CreatedAt time.Time

	// CompletedAt is when the mission reached a terminal state.
	CompletedAt time.Time
}

// Status returns the externally visible status derived from the lifecycle state.
func (m *Mission) Status() MissionStatus {
	return m.State.Status()
}

// MissionMetrics summarizes a finished mission for the caller.
type MissionMetrics struct {
	TasksTotal     int           `json:"tasks_total"`
	TasksSucceeded int           `json:"tasks_succeeded"`
	TasksFailed    int           `json:"tasks_failed"`
	TasksEscalated int           `json:"tasks_escalated"`
	AverageScore   float64       `json:"average_score"`
	Duration       time.Duration `json:"duration"`
}

// MissionResult is the structured result returned to the mission submitter.
// The entry point always returns one of these, never a raw internal error;
// whatever phase outputs were produced before failure are included for
// diagnosis.
type MissionResult struct {
	MissionID string `json:"mission_id"`

	// Status is the terminal mission status.
	Status MissionStatus `json:"status"`

	// Reason explains failed or aborted results in human-readable form.
	Reason string `json:"reason,omitempty"`

	// PhaseOutputs holds the outputs of every phase that completed, keyed by
	// lifecycle state name.
	PhaseOutputs map[string]map[string]interface{} `json:"phase_outputs,omitempty"`

	// PartialRollback is set when abort unwinding could not fully complete.
	PartialRollback bool `json:"partial_rollback,omitempty"`

	Metrics MissionMetrics `json:"metrics"`
}
