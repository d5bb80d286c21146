package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/credit"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

// fakeAgent fails a configured number of times before succeeding, recording
// every input it sees.
type fakeAgent struct {
	name     string
	role     types.Role
	priority int

	failures int
	failErr  error
	payload  map[string]interface{}
	delay    time.Duration

	mu     sync.Mutex
	calls  int
	inputs []map[string]interface{}
}

func (f *fakeAgent) Role() types.Role { return f.role }
func (f *fakeAgent) Name() string     { return f.name }
func (f *fakeAgent) Priority() int    { return f.priority }

func (f *fakeAgent) Perform(ctx context.Context, input map[string]interface{}, _ *agent.MissionContext) (*agent.Output, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inputs = append(f.inputs, input)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if call <= f.failures {
		return nil, f.failErr
	}

	payload := f.payload
	if payload == nil {
		payload = map[string]interface{}{"content": "done"}
	}
	return &agent.Output{Payload: payload, Confidence: 0.9, Duration: f.delay}, nil
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type controllerFixture struct {
	cfg    *config.Config
	agents *agent.Registry
	store  *memory.InMemoryStore
	events []*types.Event
	mu     sync.Mutex
}

func newControllerFixture(t *testing.T, agents ...agent.Agent) *controllerFixture {
	t.Helper()
	fx := &controllerFixture{
		cfg:    config.Default(),
		agents: agent.NewRegistry(),
		store:  memory.NewInMemoryStore(),
	}
	fx.cfg.Mission.TaskTimeout = time.Second
	for _, a := range agents {
		if err := fx.agents.Register(a); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return fx
}

func (fx *controllerFixture) emit(e *types.Event) {
	fx.mu.Lock()
	fx.events = append(fx.events, e)
	fx.mu.Unlock()
}

func (fx *controllerFixture) controller() *Controller {
	assigner := credit.NewAssigner(fx.store, "trace-1", fx.emit)
	registry := tools.NewRegistry("trace-1", fx.emit)
	return NewController(fx.cfg, fx.agents, fx.store, registry, assigner,
		tools.NewPermissionSet(tools.PermissionRead, tools.PermissionWrite), "trace-1", fx.emit)
}

func (fx *controllerFixture) eventKinds() []types.EventKind {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	kinds := make([]types.EventKind, len(fx.events))
	for i, e := range fx.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func queuedTask(role types.Role) *types.Task {
	return &types.Task{
		ID:          "t1",
		MissionID:   "m1",
		Role:        role,
		Description: "do the thing",
		Input:       map[string]interface{}{"detail": "x"},
		Status:      types.TaskQueued,
	}
}

func TestRunTask(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		coder := &fakeAgent{name: "coder-1", role: types.RoleCoder}
		fx := newControllerFixture(t, coder)
		task := queuedTask(types.RoleCoder)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskSucceeded {
			t.Fatalf("Expected succeeded, got %s (%s)", task.Status, task.Err)
		}
		if task.AssignedAgent != "coder-1" {
			t.Errorf("Expected assigned agent, got %q", task.AssignedAgent)
		}
		if _, ok := fx.store.GetShortTerm("m1", "output:t1"); !ok {
			t.Error("Expected output recorded in short-term memory")
		}
		if rec, ok := fx.store.AgentStats("coder-1"); !ok || rec.SuccessRate != 1 {
			t.Errorf("Expected credit assigned, got %+v", rec)
		}
	})

	t.Run("retries transient failures with identical input", func(t *testing.T) {
		coder := &fakeAgent{
			name: "coder-1", role: types.RoleCoder,
			failures: 2,
			failErr:  fmt.Errorf("flaky: %w", types.ErrGenerationFailure),
		}
		fx := newControllerFixture(t, coder)
		fx.cfg.Retry.MaxRetries = 3
		task := queuedTask(types.RoleCoder)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskSucceeded {
			t.Fatalf("Expected succeeded after retries, got %s (%s)", task.Status, task.Err)
		}
		if task.RetryCount != 2 {
			t.Errorf("Expected 2 retries, got %d", task.RetryCount)
		}
		if coder.callCount() != 3 {
			t.Errorf("Expected 3 attempts, got %d", coder.callCount())
		}

		first := coder.inputs[0]
		for i, input := range coder.inputs[1:] {
			if fmt.Sprint(input) != fmt.Sprint(first) {
				t.Errorf("Attempt %d input differs from the first: %v vs %v", i+2, input, first)
			}
		}
	})

	t.Run("escalates when retries run out", func(t *testing.T) {
		coder := &fakeAgent{
			name: "coder-1", role: types.RoleCoder,
			failures: 10,
			failErr:  fmt.Errorf("always down: %w", types.ErrGenerationFailure),
		}
		fx := newControllerFixture(t, coder)
		fx.cfg.Retry.MaxRetries = 2
		task := queuedTask(types.RoleCoder)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskEscalated {
			t.Fatalf("Expected escalated, got %s", task.Status)
		}
		if coder.callCount() != 2 {
			t.Errorf("Max retries 2 bounds the task to 2 attempts, got %d", coder.callCount())
		}

		sawEscalation := false
		for _, kind := range fx.eventKinds() {
			if kind == types.EventTaskEscalated {
				sawEscalation = true
			}
		}
		if !sawEscalation {
			t.Error("Expected a task_escalated event")
		}

		if rec, _ := fx.store.AgentStats("coder-1"); rec.SuccessRate != 0 {
			t.Errorf("Escalation should count as failure in long-term memory: %+v", rec)
		}
	})

	t.Run("invalid input escalates without retrying", func(t *testing.T) {
		coder := &fakeAgent{
			name: "coder-1", role: types.RoleCoder,
			failures: 10,
			failErr:  fmt.Errorf("bad task: %w", types.ErrInvalidInput),
		}
		fx := newControllerFixture(t, coder)
		fx.cfg.Retry.MaxRetries = 3
		task := queuedTask(types.RoleCoder)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskEscalated {
			t.Fatalf("Expected escalated, got %s", task.Status)
		}
		if coder.callCount() != 1 {
			t.Errorf("Invalid input must not be retried, got %d attempts", coder.callCount())
		}
	})

	t.Run("timeout counts as a failed attempt", func(t *testing.T) {
		coder := &fakeAgent{name: "coder-1", role: types.RoleCoder, delay: 200 * time.Millisecond}
		fx := newControllerFixture(t, coder)
		fx.cfg.Mission.TaskTimeout = 20 * time.Millisecond
		fx.cfg.Retry.MaxRetries = 0
		task := queuedTask(types.RoleCoder)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskEscalated {
			t.Fatalf("Expected escalation after timeout, got %s (%s)", task.Status, task.Err)
		}
	})

	t.Run("timeout retries and can then succeed", func(t *testing.T) {
		coder := &fakeAgent{name: "coder-1", role: types.RoleCoder, delay: 60 * time.Millisecond}
		fx := newControllerFixture(t, coder)
		fx.cfg.Mission.TaskTimeout = 40 * time.Millisecond
		fx.cfg.Retry.MaxRetries = 3
		task := queuedTask(types.RoleCoder)

		go func() {
			time.Sleep(50 * time.Millisecond)
			coder.mu.Lock()
			coder.delay = 0
			coder.mu.Unlock()
		}()

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskSucceeded {
			t.Fatalf("Expected success after a timed-out attempt, got %s (%s)", task.Status, task.Err)
		}
		if task.RetryCount == 0 {
			t.Error("Expected at least one retry")
		}
	})

	t.Run("no agent for role escalates", func(t *testing.T) {
		fx := newControllerFixture(t)
		task := queuedTask(types.RoleTester)

		fx.controller().RunTask(context.Background(), "goal", task)

		if task.Status != types.TaskEscalated {
			t.Fatalf("Expected escalated, got %s", task.Status)
		}
	})

	t.Run("cancellation fails the task", func(t *testing.T) {
		coder := &fakeAgent{name: "coder-1", role: types.RoleCoder, delay: time.Second}
		fx := newControllerFixture(t, coder)
		task := queuedTask(types.RoleCoder)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		fx.controller().RunTask(ctx, "goal", task)

		if task.Status != types.TaskFailed {
			t.Fatalf("Expected failed on cancellation, got %s", task.Status)
		}
	})
}
