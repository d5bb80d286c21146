// Package orchestrator drives missions end to end: the lifecycle state
// machine, the memory-driven agent selection policy, the task DAG scheduler,
// and the retry/escalation controller.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/foundry/pkg/types"
)

// stateTransitions is the mission lifecycle transition table. Failure and
// abort are reachable from every non-terminal state; terminal states admit
// nothing.
var stateTransitions = map[types.MissionState][]types.MissionState{
	types.StateCreated:                  {types.StatePlanning, types.StateFailed, types.StateAborted},
	types.StatePlanning:                 {types.StateAwaitingPlanApproval, types.StateFailed, types.StateAborted},
	types.StateAwaitingPlanApproval:     {types.StateDecomposing, types.StateFailed, types.StateAborted},
	types.StateDecomposing:              {types.StateExecuting, types.StateFailed, types.StateAborted},
	types.StateExecuting:                {types.StateIntegrating, types.StateFailed, types.StateAborted},
	types.StateIntegrating:              {types.StateAwaitingDeliveryApproval, types.StateFailed, types.StateAborted},
	types.StateAwaitingDeliveryApproval: {types.StateSucceeded, types.StateFailed, types.StateAborted},
	types.StateSucceeded:                {},
	types.StateFailed:                   {},
	types.StateAborted:                  {},
}

// StateMachine owns a mission's lifecycle state. All transitions go through
// Transition, which enforces the table and emits phase_transition events.
type StateMachine struct {
	mu      sync.Mutex
	mission *types.Mission
	emitter types.EventEmitter
	traceID string
}

// NewStateMachine wraps a mission. A nil emitter discards events.
func NewStateMachine(mission *types.Mission, traceID string, emitter types.EventEmitter) *StateMachine {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &StateMachine{mission: mission, emitter: emitter, traceID: traceID}
}

// State returns the current lifecycle state.
func (sm *StateMachine) State() types.MissionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.mission.State
}

// Transition moves the mission to the given state. Transitions from terminal
// states are rejected, making terminal mission records immutable.
func (sm *StateMachine) Transition(to types.MissionState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.mission.State
	allowed := false
	for _, next := range stateTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("mission %s: illegal transition %s -> %s", sm.mission.ID, from, to)
	}

	sm.mission.State = to
	if to.Terminal() {
		sm.mission.CompletedAt = time.Now()
	}

	sm.emitter(types.NewPhaseTransitionEvent(sm.traceID, sm.mission.ID, from, to))
	return nil
}

// Fail moves the mission to failed with a reason. No-op if already terminal.
func (sm *StateMachine) Fail(reason string) {
	sm.mu.Lock()
	if sm.mission.State.Terminal() {
		sm.mu.Unlock()
		return
	}
	from := sm.mission.State
	sm.mission.State = types.StateFailed
	sm.mission.Reason = reason
	sm.mission.CompletedAt = time.Now()
	sm.mu.Unlock()

	sm.emitter(types.NewPhaseTransitionEvent(sm.traceID, sm.mission.ID, from, types.StateFailed))
}

// Abort moves the mission to aborted with a reason. No-op if already
// terminal.
func (sm *StateMachine) Abort(reason string) {
	sm.mu.Lock()
	if sm.mission.State.Terminal() {
		sm.mu.Unlock()
		return
	}
	from := sm.mission.State
	sm.mission.State = types.StateAborted
	sm.mission.Reason = reason
	sm.mission.CompletedAt = time.Now()
	sm.mu.Unlock()

	sm.emitter(types.NewPhaseTransitionEvent(sm.traceID, sm.mission.ID, from, types.StateAborted))
}

// RecordPhase appends a completed phase's output to the mission.
func (sm *StateMachine) RecordPhase(phase types.MissionState, output map[string]interface{}) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.mission.Phases = append(sm.mission.Phases, types.PhaseResult{
		Phase:       phase,
		Output:      output,
		CompletedAt: time.Now(),
	})
}
