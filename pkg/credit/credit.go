// Package credit implements credit assignment: converting terminal task
// outcomes into long-term memory records.
//
// The assigner is the only writer of long-term memory. Agents and the
// scheduler report outcomes through it, which keeps the outcome scalar rule
// in one place and makes aggregate updates order-independent.
package credit

import (
	"time"

	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/types"
)

// Assigner folds terminal task outcomes into long-term memory.
type Assigner struct {
	store   memory.Store
	emitter types.EventEmitter
	traceID string
}

// NewAssigner creates a credit assigner writing to the given store. A nil
// emitter discards events.
func NewAssigner(store memory.Store, traceID string, emitter types.EventEmitter) *Assigner {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &Assigner{store: store, emitter: emitter, traceID: traceID}
}

// Assign records the outcome of a terminally finished task. The outcome
// scalar is the evaluator score when one was produced; otherwise success
// maps to 1 and failure to 0. Escalated tasks count as failures for the
// performing agent.
func (a *Assigner) Assign(task *types.Task, duration time.Duration) {
	if task.AssignedAgent == "" || !task.Status.Terminal() {
		return
	}

	success := task.Status == types.TaskSucceeded
	score := task.Score
	if score == 0 {
		if success {
			score = 1
		} else {
			score = 0
		}
	}

	a.store.AppendLongTerm(memory.OutcomeRecord{
		MissionID: task.MissionID,
		TaskID:    task.ID,
		AgentID:   task.AssignedAgent,
		Role:      task.Role,
		Success:   success,
		Score:     score,
		Latency:   duration,
		Timestamp: time.Now(),
	})

	a.emitter(types.NewEvent(types.EventCreditAssigned, a.traceID, task.MissionID).
		WithTask(task.ID).
		WithRole(task.Role).
		With("agent", task.AssignedAgent).
		With("success", success).
		With("score", score))
}
