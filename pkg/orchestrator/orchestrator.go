package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/approval"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/credit"
	"github.com/entrhq/foundry/pkg/logging"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

// Options wires an orchestrator's collaborators.
type Options struct {
	Config      *config.Config
	Agents      *agent.Registry
	Memory      memory.Store
	Tools       *tools.Registry
	Approvals   *approval.Manager
	Permissions tools.PermissionSet
	Emitter     types.EventEmitter
	Logger      *logging.Logger
}

// Orchestrator drives one mission from goal to terminal result. It is the
// sole owner of the mission record's mutable state.
type Orchestrator struct {
	cfg        *config.Config
	mission    *types.Mission
	sm         *StateMachine
	agents     *agent.Registry
	store      memory.Store
	registry   *tools.Registry
	approvals  *approval.Manager
	assigner   *credit.Assigner
	controller *Controller
	scheduler  *Scheduler
	emitter    types.EventEmitter
	logger     *logging.Logger
	traceID    string

	tasks []*types.Task

	mu          sync.Mutex
	cancel      context.CancelFunc
	abortReason string
}

// New creates an orchestrator for one mission goal.
func New(goal string, opts Options) *Orchestrator {
	if opts.Emitter == nil {
		opts.Emitter = types.NopEmitter
	}

	mission := &types.Mission{
		ID:        uuid.New().String(),
		Goal:      goal,
		State:     types.StateCreated,
		CreatedAt: time.Now(),
	}
	traceID := uuid.New().String()

	assigner := credit.NewAssigner(opts.Memory, traceID, opts.Emitter)
	controller := NewController(opts.Config, opts.Agents, opts.Memory, opts.Tools,
		assigner, opts.Permissions, traceID, opts.Emitter)

	return &Orchestrator{
		cfg:        opts.Config,
		mission:    mission,
		sm:         NewStateMachine(mission, traceID, opts.Emitter),
		agents:     opts.Agents,
		store:      opts.Memory,
		registry:   opts.Tools,
		approvals:  opts.Approvals,
		assigner:   assigner,
		controller: controller,
		scheduler:  NewScheduler(opts.Config, controller, traceID, opts.Emitter),
		emitter:    opts.Emitter,
		logger:     opts.Logger,
		traceID:    traceID,
	}
}

// MissionID returns the mission identifier.
func (o *Orchestrator) MissionID() string {
	return o.mission.ID
}

// Status returns the mission's externally visible status.
func (o *Orchestrator) Status() types.MissionStatus {
	return o.sm.State().Status()
}

// Abort cancels the mission. Completed tool effects are rolled back in
// reverse order before the mission record turns terminal. The first abort
// reason wins.
func (o *Orchestrator) Abort(reason string) {
	o.mu.Lock()
	if o.abortReason == "" {
		o.abortReason = reason
	}
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) abortedReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.abortReason
}

// Run drives the mission to a terminal state and returns the structured
// result. It never returns a raw internal error: failures are folded into
// the result with whatever phase outputs were produced.
func (o *Orchestrator) Run(ctx context.Context) *types.MissionResult {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	start := time.Now()
	err := o.execute(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			reason := o.abortedReason()
			if reason == "" {
				reason = "mission cancelled"
			}
			o.unwind(reason)
		} else {
			o.logf("mission %s failed: %v", o.mission.ID, err)
			o.sm.Fail(err.Error())
		}
	}

	return o.finalize(time.Since(start))
}

// execute walks the phase sequence. Any returned error terminates the
// mission; the caller classifies it as failure or abort.
func (o *Orchestrator) execute(ctx context.Context) error {
	if err := o.sm.Transition(types.StatePlanning); err != nil {
		return err
	}
	plan, err := o.runPhaseTask(ctx, types.RolePlanner, "plan",
		fmt.Sprintf("Plan how to accomplish this goal: %s", o.mission.Goal),
		o.planningContext())
	if err != nil {
		return err
	}
	o.store.RecordShortTerm(o.mission.ID, "plan", plan.Output["plan"])
	o.sm.RecordPhase(types.StatePlanning, plan.Output)

	if err := o.sm.Transition(types.StateAwaitingPlanApproval); err != nil {
		return err
	}
	if err := o.gate(ctx, types.MilestoneMissionPlan, plan.Output); err != nil {
		return err
	}

	if err := o.sm.Transition(types.StateDecomposing); err != nil {
		return err
	}
	decomposition, err := o.runPhaseTask(ctx, types.RoleDecomposer, "decompose",
		"Decompose this plan into tasks for the available roles.", nil)
	if err != nil {
		return err
	}
	specs, ok := decomposition.Output["tasks"].([]types.TaskSpec)
	if !ok {
		return fmt.Errorf("decomposition produced no task list: %w", types.ErrInvalidInput)
	}
	tasks, err := o.materialize(specs)
	if err != nil {
		return err
	}
	o.tasks = tasks
	o.sm.RecordPhase(types.StateDecomposing, decomposition.Output)
	if err := o.gate(ctx, types.MilestoneDecompositionPlan, decomposition.Output); err != nil {
		return err
	}

	if err := o.sm.Transition(types.StateExecuting); err != nil {
		return err
	}
	if decision := o.scheduler.Run(ctx, o.mission.Goal, o.tasks); !decision.Continue {
		return errors.New(decision.Reason)
	}
	o.sm.RecordPhase(types.StateExecuting, o.taskOutputs())

	if err := o.sm.Transition(types.StateIntegrating); err != nil {
		return err
	}
	integration, err := o.runPhaseTask(ctx, types.RoleIntegrator, "integrate",
		"Integrate the task outputs into the final deliverable.",
		map[string]interface{}{"outputs": o.taskOutputs()})
	if err != nil {
		return err
	}
	o.sm.RecordPhase(types.StateIntegrating, integration.Output)

	if err := o.sm.Transition(types.StateAwaitingDeliveryApproval); err != nil {
		return err
	}
	if err := o.gate(ctx, types.MilestoneFinalDelivery, integration.Output); err != nil {
		return err
	}

	return o.sm.Transition(types.StateSucceeded)
}

// runPhaseTask runs a singleton phase task through the controller so phases
// get the same retry, escalation, and credit treatment as graph tasks.
func (o *Orchestrator) runPhaseTask(ctx context.Context, role types.Role, name, description string, input map[string]interface{}) (*types.Task, error) {
	task := &types.Task{
		ID:          fmt.Sprintf("%s-%s", name, o.mission.ID),
		MissionID:   o.mission.ID,
		Role:        role,
		Description: description,
		Input:       input,
		Status:      types.TaskQueued,
		CreatedAt:   time.Now(),
	}

	o.controller.RunTask(ctx, o.mission.Goal, task)
	if task.Status != types.TaskSucceeded {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s phase failed: %s", role, task.Err)
	}
	return task, nil
}

// planningContext surfaces past missions with similar goals from long-term
// memory so the planner can lean on what worked before.
func (o *Orchestrator) planningContext() map[string]interface{} {
	past := o.store.SimilarMissions(o.mission.Goal, 3)
	if len(past) == 0 {
		return nil
	}

	summaries := make([]string, 0, len(past))
	for _, m := range past {
		summaries = append(summaries, fmt.Sprintf("%q finished %s with %d tasks, average score %.2f",
			m.Goal, m.Status, m.TasksTotal, m.AvgScore))
	}
	return map[string]interface{}{"similar_missions": strings.Join(summaries, "; ")}
}

// gate requests a milestone approval and blocks until it resolves.
func (o *Orchestrator) gate(ctx context.Context, milestone types.Milestone, subject map[string]interface{}) error {
	handle := o.approvals.Request(o.mission.ID, milestone, subject)
	_, err := o.approvals.Wait(ctx, handle, o.cfg.Approval.Timeout)
	return err
}

// materialize turns decomposer specs into queued task records and validates
// the graph before anything runs.
func (o *Orchestrator) materialize(specs []types.TaskSpec) ([]*types.Task, error) {
	tasks := make([]*types.Task, 0, len(specs))
	for _, spec := range specs {
		tasks = append(tasks, &types.Task{
			ID:          spec.ID,
			MissionID:   o.mission.ID,
			Role:        spec.Role,
			Description: spec.Description,
			Input:       spec.Input,
			DependsOn:   spec.DependsOn,
			Status:      types.TaskQueued,
			CreatedAt:   time.Now(),
		})
	}
	if err := ValidateGraph(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// taskOutputs collects the outputs of succeeded graph tasks by task ID.
func (o *Orchestrator) taskOutputs() map[string]interface{} {
	outputs := make(map[string]interface{}, len(o.tasks))
	for _, t := range o.tasks {
		if t.Status == types.TaskSucceeded {
			outputs[t.ID] = t.Output
		}
	}
	return outputs
}

// unwind rolls the mission's tool effects back in reverse order and marks
// the mission aborted. Rollback failures never disappear: they set the
// partial-rollback flag and are logged.
func (o *Orchestrator) unwind(reason string) {
	if err := o.registry.RollbackMission(context.Background(), o.mission.ID); err != nil {
		o.mission.PartialRollback = true
		o.logf("mission %s: partial rollback: %v", o.mission.ID, err)
	}
	o.sm.Abort(reason)
}

// finalize archives the mission and builds the caller-facing result.
func (o *Orchestrator) finalize(duration time.Duration) *types.MissionResult {
	metrics := o.metrics(duration)
	status := o.mission.Status()

	o.store.RecordMissionOutcome(memory.MissionOutcome{
		MissionID:  o.mission.ID,
		Goal:       o.mission.Goal,
		Status:     status,
		TasksTotal: metrics.TasksTotal,
		AvgScore:   metrics.AverageScore,
	})
	o.store.ArchiveMission(o.mission.ID)

	o.emitter(types.NewMissionCompletedEvent(o.traceID, o.mission.ID, status, o.mission.Reason))

	phaseOutputs := make(map[string]map[string]interface{}, len(o.mission.Phases))
	for _, phase := range o.mission.Phases {
		phaseOutputs[string(phase.Phase)] = phase.Output
	}

	return &types.MissionResult{
		MissionID:       o.mission.ID,
		Status:          status,
		Reason:          o.mission.Reason,
		PhaseOutputs:    phaseOutputs,
		PartialRollback: o.mission.PartialRollback,
		Metrics:         metrics,
	}
}

func (o *Orchestrator) metrics(duration time.Duration) types.MissionMetrics {
	m := types.MissionMetrics{Duration: duration}
	scoreSum, scored := 0.0, 0
	for _, t := range o.tasks {
		m.TasksTotal++
		switch t.Status {
		case types.TaskSucceeded:
			m.TasksSucceeded++
		case types.TaskFailed:
			m.TasksFailed++
		case types.TaskEscalated:
			m.TasksEscalated++
		}
		if t.Score > 0 {
			scoreSum += t.Score
			scored++
		}
	}
	if scored > 0 {
		m.AverageScore = scoreSum / float64(scored)
	}
	return m
}

func (o *Orchestrator) logf(format string, v ...interface{}) {
	if o.logger != nil {
		o.logger.Errorf(format, v...)
	}
}
