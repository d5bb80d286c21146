package orchestrator

import (
	"fmt"
	"time"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/memory"
	"github.com/entrhq/foundry/pkg/types"
)

const (
	// Combined score weights: historical reliability dominates, quality
	// refines.
	successRateWeight = 0.6
	qualityWeight     = 0.4

	// neutralScore is assumed for agents with no history, so new agents
	// compete on equal footing with mid-performing known ones.
	neutralScore = 0.5
)

// StatsFunc looks up an agent's long-term aggregates by name.
type StatsFunc func(agentID string) (memory.AgentRecord, bool)

// SelectAgent picks the best candidate for a task from long-term memory
// aggregates. The decision is a pure function of candidates and stats: the
// combined score is success rate weighted 0.6 and average quality weighted
// 0.4, ties break on lower average latency, then on declared priority, then
// on name for determinism.
func SelectAgent(candidates []agent.Agent, stats StatsFunc) (agent.Agent, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate agents: %w", types.ErrNotFound)
	}

	best := candidates[0]
	bestScore, bestLatency := scoreOf(best, stats)

	for _, candidate := range candidates[1:] {
		score, latency := scoreOf(candidate, stats)
		if better(score, latency, candidate, bestScore, bestLatency, best) {
			best, bestScore, bestLatency = candidate, score, latency
		}
	}
	return best, nil
}

func scoreOf(a agent.Agent, stats StatsFunc) (float64, time.Duration) {
	rec, ok := stats(a.Name())
	if !ok || rec.TotalTasks == 0 {
		return neutralScore, 0
	}
	return rec.SuccessRate*successRateWeight + rec.AvgQuality*qualityWeight, rec.AvgLatency
}

func better(score float64, latency time.Duration, a agent.Agent,
	bestScore float64, bestLatency time.Duration, best agent.Agent) bool {
	if score != bestScore {
		return score > bestScore
	}
	if latency != bestLatency {
		return latency < bestLatency
	}
	if a.Priority() != best.Priority() {
		return a.Priority() < best.Priority()
	}
	return a.Name() < best.Name()
}

// StopDecision is the policy's verdict after a task escalation.
type StopDecision struct {
	// Continue is true when the mission may proceed past the escalation.
	Continue bool

	// Reason explains a stop in human-readable form.
	Reason string
}

// ShouldContinue decides whether the mission proceeds after an escalation.
// Strict mode always stops. Adaptive mode continues while the mission's
// average task score stays at or above the configured threshold.
func ShouldContinue(cfg *config.MissionConfig, escalatedTask string, avgScore float64) StopDecision {
	if cfg.StoppingMode == config.StopAdaptive {
		if avgScore >= cfg.QualityThreshold {
			return StopDecision{Continue: true}
		}
		return StopDecision{
			Continue: false,
			Reason: fmt.Sprintf("task %s escalated and mission quality %.2f fell below threshold %.2f",
				escalatedTask, avgScore, cfg.QualityThreshold),
		}
	}
	return StopDecision{
		Continue: false,
		Reason:   fmt.Sprintf("task %s escalated after exhausting retries", escalatedTask),
	}
}
