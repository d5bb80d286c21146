// Package memory provides the engine's two memory layers: per-mission
// short-term working state and cross-mission long-term outcome history.
//
// Short-term entries are scoped to one mission and discarded when it is
// archived. Long-term history is append-only; aggregate statistics per agent
// are maintained incrementally so policy reads never scan the full log.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/foundry/pkg/types"
)

// OutcomeRecord is one appended long-term observation of an agent performing
// a task. Records are immutable once appended.
type OutcomeRecord struct {
	MissionID string
	TaskID    string
	AgentID   string
	Role      types.Role
	Success   bool
	Score     float64
	Latency   time.Duration
	Timestamp time.Time
}

// AgentRecord holds the running aggregates for one agent, derived from every
// outcome appended for it. All fields are recomputable from the outcome log.
type AgentRecord struct {
	AgentID     string
	Role        types.Role
	TotalTasks  int
	Successes   int
	SuccessRate float64
	AvgQuality  float64
	AvgLatency  time.Duration
}

// MissionOutcome summarizes one archived mission for similar-mission lookup.
type MissionOutcome struct {
	MissionID   string
	Goal        string
	Status      types.MissionStatus
	TasksTotal  int
	AvgScore    float64
	CompletedAt time.Time
}

// Store is the engine's memory access surface. Implementations must be safe
// for concurrent use; writes to the same short-term key are linearized so the
// last write wins.
type Store interface {
	// RecordShortTerm stores a mission-scoped key/value pair.
	RecordShortTerm(missionID, key string, value interface{})

	// GetShortTerm retrieves a mission-scoped value.
	GetShortTerm(missionID, key string) (interface{}, bool)

	// AppendLongTerm appends an outcome record and folds it into the
	// owning agent's aggregates.
	AppendLongTerm(rec OutcomeRecord)

	// AgentStats returns the running aggregates for an agent.
	AgentStats(agentID string) (AgentRecord, bool)

	// RoleStats returns the aggregates of every agent observed in a role.
	RoleStats(role types.Role) []AgentRecord

	// RecordMissionOutcome stores a mission summary for future lookup.
	RecordMissionOutcome(outcome MissionOutcome)

	// SimilarMissions returns up to limit past missions whose goals share
	// the most keywords with the given goal, best match first.
	SimilarMissions(goal string, limit int) []MissionOutcome

	// ArchiveMission drops the mission's short-term entries. Long-term
	// history is never dropped.
	ArchiveMission(missionID string)
}

// InMemoryStore is the default Store backed by process memory.
type InMemoryStore struct {
	mu sync.RWMutex

	shortTerm map[string]map[string]interface{}
	outcomes  []OutcomeRecord
	agents    map[string]*agentAggregate
	missions  []MissionOutcome
}

// agentAggregate keeps sums rather than averages so folding in a new outcome
// is order-independent.
type agentAggregate struct {
	role       types.Role
	count      int
	successes  int
	scoreSum   float64
	latencySum time.Duration
}

func (a *agentAggregate) record(agentID string) AgentRecord {
	rec := AgentRecord{
		AgentID:    agentID,
		Role:       a.role,
		TotalTasks: a.count,
		Successes:  a.successes,
	}
	if a.count > 0 {
		rec.SuccessRate = float64(a.successes) / float64(a.count)
		rec.AvgQuality = a.scoreSum / float64(a.count)
		rec.AvgLatency = a.latencySum / time.Duration(a.count)
	}
	return rec
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		shortTerm: make(map[string]map[string]interface{}),
		agents:    make(map[string]*agentAggregate),
	}
}

// RecordShortTerm stores a mission-scoped key/value pair. Concurrent writers
// to the same key are linearized; the last write wins.
func (s *InMemoryStore) RecordShortTerm(missionID, key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.shortTerm[missionID]
	if !ok {
		entries = make(map[string]interface{})
		s.shortTerm[missionID] = entries
	}
	entries[key] = value
}

// GetShortTerm retrieves a mission-scoped value.
func (s *InMemoryStore) GetShortTerm(missionID, key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.shortTerm[missionID]
	if !ok {
		return nil, false
	}
	value, ok := entries[key]
	return value, ok
}

// AppendLongTerm appends an outcome record and folds it into the owning
// agent's aggregates.
func (s *InMemoryStore) AppendLongTerm(rec OutcomeRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, rec)

	agg, ok := s.agents[rec.AgentID]
	if !ok {
		agg = &agentAggregate{role: rec.Role}
		s.agents[rec.AgentID] = agg
	}
	agg.count++
	if rec.Success {
		agg.successes++
	}
	agg.scoreSum += rec.Score
	agg.latencySum += rec.Latency
}

// AgentStats returns the running aggregates for an agent.
func (s *InMemoryStore) AgentStats(agentID string) (AgentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.agents[agentID]
	if !ok {
		return AgentRecord{}, false
	}
	return agg.record(agentID), true
}

// RoleStats returns the aggregates of every agent observed in a role, ordered
// by agent ID for deterministic iteration.
func (s *InMemoryStore) RoleStats(role types.Role) []AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []AgentRecord
	for agentID, agg := range s.agents {
		if agg.role == role {
			records = append(records, agg.record(agentID))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AgentID < records[j].AgentID })
	return records
}

// RecordMissionOutcome stores a mission summary for future lookup.
func (s *InMemoryStore) RecordMissionOutcome(outcome MissionOutcome) {
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions = append(s.missions, outcome)
}

// SimilarMissions returns up to limit past missions ranked by keyword overlap
// between goals. Missions with no overlap are excluded.
func (s *InMemoryStore) SimilarMissions(goal string, limit int) []MissionOutcome {
	if limit <= 0 {
		return nil
	}

	keywords := goalKeywords(goal)
	if len(keywords) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		outcome MissionOutcome
		overlap int
	}
	var candidates []scored
	for _, m := range s.missions {
		overlap := 0
		for word := range goalKeywords(m.Goal) {
			if keywords[word] {
				overlap++
			}
		}
		if overlap > 0 {
			candidates = append(candidates, scored{outcome: m, overlap: overlap})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].overlap > candidates[j].overlap })

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]MissionOutcome, len(candidates))
	for i, c := range candidates {
		results[i] = c.outcome
	}
	return results
}

// ArchiveMission drops the mission's short-term entries.
func (s *InMemoryStore) ArchiveMission(missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shortTerm, missionID)
}

// OutcomeCount returns the number of long-term records appended so far.
func (s *InMemoryStore) OutcomeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

// OutcomesForMission returns the outcome records appended for one mission, in
// append order.
func (s *InMemoryStore) OutcomesForMission(missionID string) []OutcomeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []OutcomeRecord
	for _, rec := range s.outcomes {
		if rec.MissionID == missionID {
			records = append(records, rec)
		}
	}
	return records
}

// goalKeywords lowercases and splits a goal, dropping short stop words so
// overlap scoring keys on meaningful terms.
func goalKeywords(goal string) map[string]bool {
	words := strings.Fields(strings.ToLower(goal))
	keywords := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			keywords[w] = true
		}
	}
	return keywords
}

// ShortTermKey builds the conventional short-term key for a task artifact.
func ShortTermKey(kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}
