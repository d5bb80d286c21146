// Package flow is the engine's top-level entry point. An ExecutionFlow owns
// the shared collaborators (agents, memory, tools, approvals) and runs any
// number of missions concurrently, each through its own orchestrator.
package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/approval"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/logging"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/orchestrator"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

// Options configures an ExecutionFlow. Agents is required; everything else
// defaults to a working in-process setup.
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

// ExecutionFlow runs missions. Safe for concurrent use: missions are
// independent, sharing only the long-term memory store, the tool registry,
// and the approval manager.
type ExecutionFlow struct {
	opts Options

	mu      sync.Mutex
	active  map[string]*orchestrator.Orchestrator
	results map[string]*types.MissionResult
}

// New creates an ExecutionFlow, validating the configuration and filling
// unset collaborators with defaults.
func New(opts Options) (*ExecutionFlow, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("agent registry is required: %w", types.ErrInvalidInput)
	}

	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	if opts.Emitter == nil {
		opts.Emitter = types.NopEmitter
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryStore()
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry(uuid.New().String(), opts.Emitter)
	}
	if opts.Approvals == nil {
		opts.Approvals = approval.NewManager(uuid.New().String(), opts.Emitter)
	}
	for _, m := range opts.Config.Approval.AutoApprove {
		opts.Approvals.RegisterAutoApprove(m)
	}
	if opts.Permissions == nil {
		opts.Permissions = tools.NewPermissionSet(
			tools.PermissionRead, tools.PermissionWrite, tools.PermissionDelete, tools.PermissionExecute)
	}

	return &ExecutionFlow{
		opts:    opts,
		active:  make(map[string]*orchestrator.Orchestrator),
		results: make(map[string]*types.MissionResult),
	}, nil
}

// ExecuteMission runs one mission to completion and returns its structured
// result. It never returns a raw internal error: failures are folded into the
// result. Blocks until the mission is terminal; run it in a goroutine for
// concurrent missions.
func (f *ExecutionFlow) ExecuteMission(ctx context.Context, goal string) *types.MissionResult {
	if goal == "" {
		return &types.MissionResult{
			Status: types.MissionFailed,
			Reason: "mission goal is empty",
		}
	}

	o := orchestrator.New(goal, orchestrator.Options{
		Config:      f.opts.Config,
		Agents:      f.opts.Agents,
		Memory:      f.opts.Memory,
		Tools:       f.opts.Tools,
		Approvals:   f.opts.Approvals,
		Permissions: f.opts.Permissions,
		Emitter:     f.opts.Emitter,
		Logger:      f.opts.Logger,
	})

	f.mu.Lock()
	f.active[o.MissionID()] = o
	f.mu.Unlock()

	result := o.Run(ctx)

	f.mu.Lock()
	delete(f.active, o.MissionID())
	f.results[o.MissionID()] = result
	f.mu.Unlock()

	return result
}

// Abort cancels a running mission. Its tool effects are rolled back before
// the mission record turns terminal.
func (f *ExecutionFlow) Abort(missionID, reason string) error {
	f.mu.Lock()
	o, ok := f.active[missionID]
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("mission %s is not running: %w", missionID, types.ErrNotFound)
	}
	o.Abort(reason)
	return nil
}

// Status returns the current status of a running or completed mission.
func (f *ExecutionFlow) Status(missionID string) (types.MissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if o, ok := f.active[missionID]; ok {
		return o.Status(), nil
	}
	if result, ok := f.results[missionID]; ok {
		return result.Status, nil
	}
	return "", fmt.Errorf("mission %s: %w", missionID, types.ErrNotFound)
}

// Result returns the final result of a completed mission.
func (f *ExecutionFlow) Result(missionID string) (*types.MissionResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[missionID]
	return result, ok
}

// Active returns the IDs of missions currently running.
func (f *ExecutionFlow) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	return ids
}

// Approvals exposes the approval manager so callers can list and resolve
// pending milestone gates.
func (f *ExecutionFlow) Approvals() *approval.Manager {
	return f.opts.Approvals
}
