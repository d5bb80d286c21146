package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/types"
)

// stubAgent is a minimal agent.Agent for policy tests.
type stubAgent struct {
	name     string
	role     types.Role
	priority int
}

func (s *stubAgent) Role() types.Role { return s.role }
func (s *stubAgent) Name() string     { return s.name }
func (s *stubAgent) Priority() int    { return s.priority }
func (s *stubAgent) Perform(context.Context, map[string]interface{}, *agent.MissionContext) (*agent.Output, error) {
	return &agent.Output{Payload: map[string]interface{}{}}, nil
}

func statsFrom(records map[string]memory.AgentRecord) StatsFunc {
	return func(agentID string) (memory.AgentRecord, bool) {
		rec, ok := records[agentID]
		return rec, ok
	}
}

func TestSelectAgent(t *testing.T) {
	coderA := &stubAgent{name: "coder-a", role: types.RoleCoder}
	coderB := &stubAgent{name: "coder-b", role: types.RoleCoder}

	t.Run("weights success rate over quality", func(t *testing.T) {
		// a: 0.9*0.6 + 0.5*0.4 = 0.74; b: 0.6*0.6 + 1.0*0.4 = 0.76
		stats := statsFrom(map[string]memory.AgentRecord{
			"coder-a": {TotalTasks: 10, SuccessRate: 0.9, AvgQuality: 0.5},
			"coder-b": {TotalTasks: 10, SuccessRate: 0.6, AvgQuality: 1.0},
		})

		selected, err := SelectAgent([]agent.Agent{coderA, coderB}, stats)
		if err != nil {
			t.Fatalf("SelectAgent failed: %v", err)
		}
		if selected.Name() != "coder-b" {
			t.Errorf("Expected coder-b, got %s", selected.Name())
		}
	})

	t.Run("ties break on lower latency", func(t *testing.T) {
		stats := statsFrom(map[string]memory.AgentRecord{
			"coder-a": {TotalTasks: 5, SuccessRate: 0.8, AvgQuality: 0.8, AvgLatency: 3 * time.Second},
			"coder-b": {TotalTasks: 5, SuccessRate: 0.8, AvgQuality: 0.8, AvgLatency: time.Second},
		})

		selected, err := SelectAgent([]agent.Agent{coderA, coderB}, stats)
		if err != nil {
			t.Fatalf("SelectAgent failed: %v", err)
		}
		if selected.Name() != "coder-b" {
			t.Errorf("Expected lower-latency coder-b, got %s", selected.Name())
		}
	})

	t.Run("full ties break on declared priority", func(t *testing.T) {
		prioritized := &stubAgent{name: "coder-z", role: types.RoleCoder, priority: -1}
		stats := statsFrom(nil)

		selected, err := SelectAgent([]agent.Agent{coderA, prioritized}, stats)
		if err != nil {
			t.Fatalf("SelectAgent failed: %v", err)
		}
		if selected.Name() != "coder-z" {
			t.Errorf("Expected prioritized coder-z, got %s", selected.Name())
		}
	})

	t.Run("unknown agents compete at the neutral score", func(t *testing.T) {
		// Known agent scores 0.3*0.6 + 0.3*0.4 = 0.3, below neutral 0.5.
		stats := statsFrom(map[string]memory.AgentRecord{
			"coder-a": {TotalTasks: 10, SuccessRate: 0.3, AvgQuality: 0.3},
		})

		selected, err := SelectAgent([]agent.Agent{coderA, coderB}, stats)
		if err != nil {
			t.Fatalf("SelectAgent failed: %v", err)
		}
		if selected.Name() != "coder-b" {
			t.Errorf("Expected unproven coder-b to win, got %s", selected.Name())
		}
	})

	t.Run("is deterministic for identical inputs", func(t *testing.T) {
		stats := statsFrom(nil)
		candidates := []agent.Agent{coderB, coderA}

		first, err := SelectAgent(candidates, stats)
		if err != nil {
			t.Fatalf("SelectAgent failed: %v", err)
		}
		for i := 0; i < 20; i++ {
			again, err := SelectAgent(candidates, stats)
			if err != nil {
				t.Fatalf("SelectAgent failed: %v", err)
			}
			if again.Name() != first.Name() {
				t.Fatalf("Selection not deterministic: %s then %s", first.Name(), again.Name())
			}
		}
	})

	t.Run("no candidates is an error", func(t *testing.T) {
		if _, err := SelectAgent(nil, statsFrom(nil)); err == nil {
			t.Error("Expected error for empty candidate list")
		}
	})
}

func TestShouldContinue(t *testing.T) {
	t.Run("strict always stops", func(t *testing.T) {
		cfg := &config.MissionConfig{StoppingMode: config.StopStrict}
		decision := ShouldContinue(cfg, "t1", 1.0)
		if decision.Continue {
			t.Error("Strict mode must stop on escalation")
		}
		if decision.Reason == "" {
			t.Error("Stop decision should carry a reason")
		}
	})

	t.Run("adaptive continues above threshold", func(t *testing.T) {
		cfg := &config.MissionConfig{StoppingMode: config.StopAdaptive, QualityThreshold: 0.7}
		if decision := ShouldContinue(cfg, "t1", 0.8); !decision.Continue {
			t.Errorf("Expected continue at quality 0.8: %s", decision.Reason)
		}
		if decision := ShouldContinue(cfg, "t1", 0.6); decision.Continue {
			t.Error("Expected stop at quality 0.6")
		}
	})
}
