// Package approval implements the human approval gates guarding mission
// milestones.
//
// The gate is two-phase: requesting an approval registers a pending handle
// and emits an approval_requested event; a later Resolve call (or an
// auto-approval rule) delivers the decision to whoever is waiting on the
// handle. Gates for different missions are independent: a pending approval
// never blocks another mission's progress.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/foundry/pkg/types"
)

// Decision is a resolved approval.
type Decision struct {
	// Approved is the approver's verdict.
	Approved bool

	// Notes carries optional reviewer commentary, included in the
	// resolution event.
	Notes string
}

// Handle is one pending approval request.
type Handle struct {
	// ID uniquely identifies the request.
	ID string

	// MissionID scopes the request to one mission.
	MissionID string

	// Milestone names the gated checkpoint.
	Milestone types.Milestone

	// Subject is the artifact under review (plan text, task graph, delivery).
	Subject map[string]interface{}

	response chan Decision

	mu     sync.Mutex
	closed bool
}

// deliver sends the decision to the waiter. Safe to race with cleanup: a
// closed or full channel means the waiter is gone and the decision is moot.
func (h *Handle) deliver(d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.response <- d:
	default:
	}
}

// close marks the handle abandoned so late deliveries are dropped.
func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.response)
	}
}

// Manager tracks pending approvals and routes decisions to waiters. Safe for
// concurrent use across missions.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Handle
	auto    map[types.Milestone]bool
	emitter types.EventEmitter
	traceID string
}

// NewManager creates an approval manager. A nil emitter discards events.
func NewManager(traceID string, emitter types.EventEmitter) *Manager {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &Manager{
		pending: make(map[string]*Handle),
		auto:    make(map[types.Milestone]bool),
		emitter: emitter,
		traceID: traceID,
	}
}

// RegisterAutoApprove marks a milestone as automatically approved. Requests
// for it resolve immediately without a pending handle.
func (m *Manager) RegisterAutoApprove(milestone types.Milestone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auto[milestone] = true
}

// Request registers a pending approval and returns its handle. If the
// milestone is auto-approved the returned handle is already resolved.
func (m *Manager) Request(missionID string, milestone types.Milestone, subject map[string]interface{}) *Handle {
	h := &Handle{
		ID:        uuid.New().String(),
		MissionID: missionID,
		Milestone: milestone,
		Subject:   subject,
		response:  make(chan Decision, 1),
	}

	m.mu.Lock()
	if m.auto[milestone] {
		m.mu.Unlock()
		h.deliver(Decision{Approved: true, Notes: "auto-approved"})
		m.emitter(types.NewApprovalResolvedEvent(m.traceID, missionID, milestone, true, "auto-approved"))
		return h
	}
	m.pending[h.ID] = h
	m.mu.Unlock()

	m.emitter(types.NewApprovalRequestedEvent(m.traceID, missionID, milestone, h.ID))
	return h
}

// Resolve delivers a decision to the pending handle. Unknown or already
// resolved handles return an error; resolving twice has no further effect.
func (m *Manager) Resolve(handleID string, decision Decision) error {
	m.mu.Lock()
	h, ok := m.pending[handleID]
	if ok {
		delete(m.pending, handleID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval %s: %w", handleID, types.ErrNotFound)
	}

	h.deliver(decision)
	m.emitter(types.NewApprovalResolvedEvent(m.traceID, h.MissionID, h.Milestone, decision.Approved, decision.Notes))
	return nil
}

// Pending returns the pending handles for one mission. An empty missionID
// returns all of them.
func (m *Manager) Pending(missionID string) []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var handles []*Handle
	for _, h := range m.pending {
		if missionID == "" || h.MissionID == missionID {
			handles = append(handles, h)
		}
	}
	return handles
}

// Wait blocks until the handle is resolved, the timeout elapses, or the
// context is cancelled. A zero timeout waits on the context alone. Timeout
// and cancellation reject the milestone.
func (m *Manager) Wait(ctx context.Context, h *Handle, timeout time.Duration) (Decision, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		m.abandon(h)
		return Decision{}, ctx.Err()

	case <-timer:
		m.abandon(h)
		return Decision{}, fmt.Errorf("approval for %s timed out: %w", h.Milestone, types.ErrApprovalRejected)

	case decision := <-h.response:
		if !decision.Approved {
			return decision, fmt.Errorf("%s rejected: %w", h.Milestone, types.ErrApprovalRejected)
		}
		return decision, nil
	}
}

// abandon removes a handle whose waiter gave up, and closes its channel so a
// late Resolve cannot block.
func (m *Manager) abandon(h *Handle) {
	m.mu.Lock()
	delete(m.pending, h.ID)
	m.mu.Unlock()

	h.close()
}
