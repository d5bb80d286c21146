package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/types"
)

// Scheduler executes a mission's task DAG. Independent tasks run in parallel
// up to the configured worker limit; a task starts only when every dependency
// succeeded, and tasks whose dependencies terminally failed are failed
// without ever being scheduled.
type Scheduler struct {
	cfg        *config.Config
	controller *Controller
	emitter    types.EventEmitter
	traceID    string
}

// NewScheduler wires a scheduler around a task controller.
func NewScheduler(cfg *config.Config, controller *Controller, traceID string, emitter types.EventEmitter) *Scheduler {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &Scheduler{cfg: cfg, controller: controller, emitter: emitter, traceID: traceID}
}

// ValidateGraph checks the task graph: unique IDs, dependencies referencing
// known tasks of the same mission, and no cycles.
func ValidateGraph(tasks []*types.Task) error {
	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q: %w", t.ID, types.ErrInvalidInput)
		}
		byID[t.ID] = t
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			depTask, ok := byID[dep]
			if !ok {
				return fmt.Errorf("task %q depends on unknown task %q: %w", t.ID, dep, types.ErrInvalidInput)
			}
			if depTask.MissionID != t.MissionID {
				return fmt.Errorf("task %q depends on task %q of another mission: %w", t.ID, dep, types.ErrInvalidInput)
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	// Kahn's algorithm: anything left with an incoming edge is on a cycle.
	var ready []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(tasks) {
		return fmt.Errorf("task graph contains a cycle: %w", types.ErrInvalidInput)
	}
	return nil
}

// run-loop bookkeeping. Task records are owned by exactly one party at a
// time: the dispatch loop before start and after completion, the worker in
// between. The loop never touches a task while its worker runs; it learns
// outcomes only through the done channel.
type runState struct {
	pending  map[string]*types.Task
	terminal map[string]types.TaskStatus
	scores   map[string]float64
}

// Run executes the graph until every task is terminal or the stopping policy
// halts the mission. The returned StopDecision reports whether execution
// completed cleanly; tasks cancelled by an early stop are marked failed.
func (s *Scheduler) Run(ctx context.Context, goal string, tasks []*types.Task) StopDecision {
	if err := ValidateGraph(tasks); err != nil {
		return StopDecision{Continue: false, Reason: err.Error()}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &runState{
		pending:  make(map[string]*types.Task, len(tasks)),
		terminal: make(map[string]types.TaskStatus, len(tasks)),
		scores:   make(map[string]float64, len(tasks)),
	}
	for _, t := range tasks {
		st.pending[t.ID] = t
	}

	g, _ := errgroup.WithContext(runCtx)
	g.SetLimit(s.cfg.Mission.MaxConcurrentTasks)

	done := make(chan *types.Task, len(tasks))
	running := 0
	decision := StopDecision{Continue: true}

	for len(st.pending) > 0 || running > 0 {
		if decision.Continue {
			running += s.dispatch(runCtx, g, goal, st, done)
		} else {
			cancel()
			s.failPending(st, "mission stopped: "+decision.Reason)
		}

		if running == 0 {
			continue
		}

		finished := <-done
		running--
		st.terminal[finished.ID] = finished.Status
		st.scores[finished.ID] = finished.Score

		if finished.Status == types.TaskEscalated && decision.Continue {
			verdict := ShouldContinue(&s.cfg.Mission, finished.ID, averageScore(st))
			if !verdict.Continue {
				decision = verdict
			}
		}
		if ctx.Err() != nil && decision.Continue {
			decision = StopDecision{Continue: false, Reason: "mission cancelled"}
		}
	}

	_ = g.Wait()

	if decision.Continue {
		for _, t := range tasks {
			if t.Status != types.TaskSucceeded && t.Status != types.TaskEscalated {
				return StopDecision{Continue: false, Reason: fmt.Sprintf("task %s failed: %s", t.ID, t.Err)}
			}
		}
	}
	return decision
}

// dispatch starts every ready pending task and fails doomed ones. Returns
// the number of workers started.
func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group, goal string, st *runState, done chan<- *types.Task) int {
	started := 0
	progress := true
	for progress {
		progress = false
		for id, t := range st.pending {
			switch s.readiness(t, st) {
			case taskReady:
				delete(st.pending, id)
				started++
				task := t
				g.Go(func() error {
					s.controller.RunTask(ctx, goal, task)
					done <- task
					return nil
				})
			case taskDoomed:
				delete(st.pending, id)
				t.Err = "dependency failed"
				_ = t.Transition(types.TaskFailed)
				st.terminal[id] = t.Status
				s.emitter(types.NewTaskStateChangeEvent(s.traceID, t.MissionID, t.ID, t.Role, t.Status))
				progress = true
			}
		}
	}
	return started
}

// failPending terminally fails every task that never started.
func (s *Scheduler) failPending(st *runState, reason string) {
	for id, t := range st.pending {
		delete(st.pending, id)
		t.Err = reason
		_ = t.Transition(types.TaskFailed)
		st.terminal[id] = t.Status
		s.emitter(types.NewTaskStateChangeEvent(s.traceID, t.MissionID, t.ID, t.Role, t.Status))
	}
}

type readiness int

const (
	taskWaiting readiness = iota
	taskReady
	taskDoomed
)

// readiness reports whether a queued task can start, must keep waiting, or
// can never start because a dependency terminally failed.
func (s *Scheduler) readiness(t *types.Task, st *runState) readiness {
	result := taskReady
	for _, dep := range t.DependsOn {
		switch st.terminal[dep] {
		case types.TaskSucceeded:
		case types.TaskFailed, types.TaskEscalated:
			return taskDoomed
		default:
			result = taskWaiting
		}
	}
	return result
}

// averageScore is the mean outcome score of terminally finished tasks,
// counting unevaluated successes as 1 and failures as 0.
func averageScore(st *runState) float64 {
	sum, n := 0.0, 0
	for id, status := range st.terminal {
		n++
		switch {
		case st.scores[id] > 0:
			sum += st.scores[id]
		case status == types.TaskSucceeded:
			sum++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
