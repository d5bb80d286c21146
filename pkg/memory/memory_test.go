package memory

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/foundry/pkg/types"
)

func TestShortTerm(t *testing.T) {
	t.Run("stores and retrieves per mission", func(t *testing.T) {
		store := NewInMemoryStore()
		store.RecordShortTerm("m1", "plan", "build a parser")

		value, ok := store.GetShortTerm("m1", "plan")
		if !ok {
			t.Fatal("Expected value for m1/plan")
		}
		if value != "build a parser" {
			t.Errorf("Expected 'build a parser', got %v", value)
		}

		if _, ok := store.GetShortTerm("m2", "plan"); ok {
			t.Error("Mission m2 should not see m1's entries")
		}
	})

	t.Run("last write wins under concurrency", func(t *testing.T) {
		store := NewInMemoryStore()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				store.RecordShortTerm("m1", "counter", n)
			}(i)
		}
		wg.Wait()

		value, ok := store.GetShortTerm("m1", "counter")
		if !ok {
			t.Fatal("Expected a value after concurrent writes")
		}
		n, ok := value.(int)
		if !ok || n < 0 || n >= 50 {
			t.Errorf("Expected one of the written values, got %v", value)
		}
	})

	t.Run("archive drops short-term only", func(t *testing.T) {
		store := NewInMemoryStore()
		store.RecordShortTerm("m1", "plan", "x")
		store.AppendLongTerm(OutcomeRecord{MissionID: "m1", AgentID: "coder-1", Role: types.RoleCoder, Success: true, Score: 0.9})

		store.ArchiveMission("m1")

		if _, ok := store.GetShortTerm("m1", "plan"); ok {
			t.Error("Short-term entries should be dropped on archive")
		}
		if _, ok := store.AgentStats("coder-1"); !ok {
			t.Error("Long-term aggregates should survive archive")
		}
	})
}

func TestAgentAggregates(t *testing.T) {
	store := NewInMemoryStore()

	store.AppendLongTerm(OutcomeRecord{AgentID: "coder-1", Role: types.RoleCoder, Success: true, Score: 0.8, Latency: 2 * time.Second})
	store.AppendLongTerm(OutcomeRecord{AgentID: "coder-1", Role: types.RoleCoder, Success: false, Score: 0.2, Latency: 4 * time.Second})

	rec, ok := store.AgentStats("coder-1")
	if !ok {
		t.Fatal("Expected stats for coder-1")
	}

	if rec.TotalTasks != 2 {
		t.Errorf("Expected 2 tasks, got %d", rec.TotalTasks)
	}
	if rec.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5, got %v", rec.SuccessRate)
	}
	if math.Abs(rec.AvgQuality-0.5) > 1e-9 {
		t.Errorf("Expected avg quality 0.5, got %v", rec.AvgQuality)
	}
	if rec.AvgLatency != 3*time.Second {
		t.Errorf("Expected avg latency 3s, got %v", rec.AvgLatency)
	}
}

// Aggregation must be commutative: the same set of outcomes produces the same
// aggregates regardless of append order.
func TestAggregationOrderIndependent(t *testing.T) {
	outcomes := []OutcomeRecord{
		{AgentID: "tester-1", Role: types.RoleTester, Success: true, Score: 0.9, Latency: time.Second},
		{AgentID: "tester-1", Role: types.RoleTester, Success: false, Score: 0.1, Latency: 5 * time.Second},
		{AgentID: "tester-1", Role: types.RoleTester, Success: true, Score: 0.6, Latency: 3 * time.Second},
	}

	forward := NewInMemoryStore()
	for _, rec := range outcomes {
		forward.AppendLongTerm(rec)
	}

	reverse := NewInMemoryStore()
	for i := len(outcomes) - 1; i >= 0; i-- {
		reverse.AppendLongTerm(outcomes[i])
	}

	a, _ := forward.AgentStats("tester-1")
	b, _ := reverse.AgentStats("tester-1")

	if a != b {
		t.Errorf("Aggregates depend on append order:\nforward: %+v\nreverse: %+v", a, b)
	}
}

func TestRoleStats(t *testing.T) {
	store := NewInMemoryStore()
	store.AppendLongTerm(OutcomeRecord{AgentID: "coder-b", Role: types.RoleCoder, Success: true, Score: 0.7})
	store.AppendLongTerm(OutcomeRecord{AgentID: "coder-a", Role: types.RoleCoder, Success: true, Score: 0.9})
	store.AppendLongTerm(OutcomeRecord{AgentID: "tester-1", Role: types.RoleTester, Success: true, Score: 0.5})

	records := store.RoleStats(types.RoleCoder)
	if len(records) != 2 {
		t.Fatalf("Expected 2 coder records, got %d", len(records))
	}
	if records[0].AgentID != "coder-a" || records[1].AgentID != "coder-b" {
		t.Errorf("Expected deterministic ordering by agent ID, got %s, %s", records[0].AgentID, records[1].AgentID)
	}
}

func TestSimilarMissions(t *testing.T) {
	store := NewInMemoryStore()
	store.RecordMissionOutcome(MissionOutcome{MissionID: "m1", Goal: "build a JSON parser library", Status: types.MissionSucceeded})
	store.RecordMissionOutcome(MissionOutcome{MissionID: "m2", Goal: "write documentation site", Status: types.MissionSucceeded})
	store.RecordMissionOutcome(MissionOutcome{MissionID: "m3", Goal: "build a YAML parser tool", Status: types.MissionFailed})

	t.Run("ranks by keyword overlap", func(t *testing.T) {
		results := store.SimilarMissions("build a fast parser", 5)
		if len(results) != 2 {
			t.Fatalf("Expected 2 similar missions, got %d", len(results))
		}
		for _, r := range results {
			if r.MissionID == "m2" {
				t.Error("Documentation mission should not match a parser goal")
			}
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		results := store.SimilarMissions("build a parser", 1)
		if len(results) != 1 {
			t.Errorf("Expected 1 result, got %d", len(results))
		}
	})

	t.Run("no overlap yields nothing", func(t *testing.T) {
		results := store.SimilarMissions("deploy kubernetes cluster", 5)
		if len(results) != 0 {
			t.Errorf("Expected no results, got %d", len(results))
		}
	})
}

func TestOutcomesForMission(t *testing.T) {
	store := NewInMemoryStore()
	for i := 0; i < 3; i++ {
		store.AppendLongTerm(OutcomeRecord{MissionID: "m1", TaskID: fmt.Sprintf("t%d", i), AgentID: "coder-1", Role: types.RoleCoder, Success: true})
	}
	store.AppendLongTerm(OutcomeRecord{MissionID: "m2", TaskID: "other", AgentID: "coder-1", Role: types.RoleCoder, Success: true})

	records := store.OutcomesForMission("m1")
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.TaskID != fmt.Sprintf("t%d", i) {
			t.Errorf("Expected append order preserved, got %s at index %d", rec.TaskID, i)
		}
	}
}
