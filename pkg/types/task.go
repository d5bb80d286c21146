package types

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle status of a single task within a mission.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"    // TaskQueued means the task is waiting on dependencies or a worker.
	TaskRunning   TaskStatus = "running"   // TaskRunning means an agent is performing the task.
	TaskSucceeded TaskStatus = "succeeded" // TaskSucceeded means the task completed and its output is recorded.
	TaskFailed    TaskStatus = "failed"    // TaskFailed means the task terminally failed.
	TaskRetrying  TaskStatus = "retrying"  // TaskRetrying means the task failed and is re-queued with identical input.
	TaskEscalated TaskStatus = "escalated" // TaskEscalated means retries were exhausted and mission policy decides.
)

// Terminal reports whether the status is final for the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskEscalated
}

// taskTransitions is the set of legal task status transitions. A task never
// returns to queued from succeeded or escalated.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskQueued:    {TaskRunning, TaskFailed, TaskEscalated},
	TaskRunning:   {TaskSucceeded, TaskFailed, TaskRetrying, TaskEscalated},
	TaskRetrying:  {TaskQueued, TaskRunning, TaskEscalated},
	TaskFailed:    {},
	TaskSucceeded: {},
	TaskEscalated: {},
}

// Task is one unit of work assigned to a single agent role within a mission.
type Task struct {
	// ID uniquely identifies the task.
	ID string

	// MissionID references the owning mission.
	MissionID string

	// Role is the agent role the task is assigned to.
	Role Role

	// Description is the human-readable statement of the work.
	Description string

	// Input is the role-specific input payload.
	Input map[string]interface{}

	// DependsOn lists task IDs that must succeed before this task may start.
	// All referenced tasks must belong to the same mission.
	DependsOn []string

	// Status is the current lifecycle status.
	Status TaskStatus

	// RetryCount is the number of failed attempts so far.
	RetryCount int

	// AssignedAgent is the name of the agent implementation selected for the
	// task, set when the task first starts.
	AssignedAgent string

	// Output is the role-specific output payload, nil until the task succeeds.
	Output map[string]interface{}

	// Confidence is the performing agent's self-reported confidence, valid
	// only once Output is set.
	Confidence float64

	// Score is the evaluator's quality score for the task output, when an
	// evaluation was performed.
	Score float64

	// Err records the last failure message.
	Err string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the task to the given status, enforcing the legal
// transition table. Terminal statuses are sticky: any further transition is
// rejected.
func (t *Task) Transition(to TaskStatus) error {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == to {
			t.Status = to
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("task %s: illegal status transition %s -> %s", t.ID, t.Status, to)
}

// TaskSpec is the shape a decomposer produces for each task in the graph,
// before the orchestrator materializes Task records.
type TaskSpec struct {
	ID          string                 `json:"task_id" yaml:"task_id"`
	Role        Role                   `json:"role" yaml:"role"`
	Description string                 `json:"description" yaml:"description"`
	DependsOn   []string               `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
}
