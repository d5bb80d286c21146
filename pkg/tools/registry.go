package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/foundry/pkg/types"
)

// InvokeRequest describes one mediated tool invocation.
type InvokeRequest struct {
	MissionID string
	TaskID    string

	// Tool is the name of the registered tool to invoke.
	Tool string

	// Args are passed through to the tool.
	Args map[string]interface{}

	// Permissions is the caller's permission set.
	Permissions PermissionSet

	// IdempotencyKey deduplicates re-invocations. A repeated key whose
	// prior invocation succeeded returns the recorded result without
	// re-executing the tool; a concurrent duplicate waits for the holder
	// to settle first. Empty disables deduplication.
	IdempotencyKey string
}

// Registry mediates every tool invocation: permission checks, audit
// recording, idempotent re-invocation, and rollback. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	tools   map[string]Tool
	audit   []*Invocation
	byKey   map[string]*Invocation
	emitter types.EventEmitter
	traceID string
}

// NewRegistry creates an empty registry. A nil emitter discards events.
func NewRegistry(traceID string, emitter types.EventEmitter) *Registry {
	if emitter == nil {
		emitter = types.NopEmitter
	}
	return &Registry{
		tools:   make(map[string]Tool),
		byKey:   make(map[string]*Invocation),
		emitter: emitter,
		traceID: traceID,
	}
}

// Register adds a tool. Registering a name twice replaces the prior tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Tool returns a registered tool by name.
func (r *Registry) Tool(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Invoke runs a tool through the full mediation pipeline. Every call appends
// an audit record, whatever the outcome.
func (r *Registry) Invoke(ctx context.Context, req InvokeRequest) (map[string]interface{}, error) {
	inv := &Invocation{
		ID:             uuid.New().String(),
		MissionID:      req.MissionID,
		TaskID:         req.TaskID,
		Tool:           req.Tool,
		Args:           req.Args,
		IdempotencyKey: req.IdempotencyKey,
		Timestamp:      time.Now(),
	}

	r.mu.Lock()
	tool, ok := r.tools[req.Tool]
	if !ok {
		r.mu.Unlock()
		err := fmt.Errorf("tool %q: %w", req.Tool, types.ErrNotFound)
		r.recordOutcome(inv, nil, err)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		for {
			prior, seen := r.byKey[req.IdempotencyKey]
			if !seen {
				break
			}
			if prior.done == nil {
				// Settled. Only successful invocations stay in byKey, so
				// this is a duplicate of an applied effect.
				inv.Deduplicated = true
				r.mu.Unlock()
				r.recordOutcome(inv, prior.Result, nil)
				return prior.Result, nil
			}
			// In flight: wait for the holder to settle, then re-check.
			done := prior.done
			r.mu.Unlock()
			<-done
			r.mu.Lock()
		}
		inv.done = make(chan struct{})
		r.byKey[req.IdempotencyKey] = inv
	}
	r.mu.Unlock()

	if !req.Permissions.Covers(tool.RequiredPermissions()) {
		err := fmt.Errorf("tool %q requires %v: %w", req.Tool, tool.RequiredPermissions(), types.ErrPermissionDenied)
		r.recordOutcome(inv, nil, err)
		return nil, err
	}

	result, err := tool.Invoke(ctx, req.Args)
	r.recordOutcome(inv, result, err)
	return result, err
}

// recordOutcome appends the audit record and emits the tool_invoked event.
func (r *Registry) recordOutcome(inv *Invocation, result map[string]interface{}, err error) {
	inv.Result = result
	if err != nil {
		inv.Err = err.Error()
	}

	r.mu.Lock()
	r.audit = append(r.audit, inv)
	if inv.done != nil {
		// Failed attempts release the key so a retry executes for real.
		if err != nil && r.byKey[inv.IdempotencyKey] == inv {
			delete(r.byKey, inv.IdempotencyKey)
		}
		close(inv.done)
		inv.done = nil
	}
	r.mu.Unlock()

	r.emitter(types.NewEvent(types.EventToolInvoked, r.traceID, inv.MissionID).
		WithTask(inv.TaskID).
		With("tool", inv.Tool).
		With("invocation_id", inv.ID).
		With("deduplicated", inv.Deduplicated).
		With("error", inv.Err))
}

// AuditLog returns the audit records for one mission in invocation order.
// An empty missionID returns the full log.
func (r *Registry) AuditLog(missionID string) []*Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []*Invocation
	for _, inv := range r.audit {
		if missionID == "" || inv.MissionID == missionID {
			records = append(records, inv)
		}
	}
	return records
}

// RollbackMission undoes the mission's reversible effects in reverse
// chronological order. Deduplicated records and failed invocations have no
// effect to undo and are skipped. A rollback failure is recorded, surfaced in
// the returned error, and does not stop the remaining rollbacks.
func (r *Registry) RollbackMission(ctx context.Context, missionID string) error {
	r.mu.Lock()
	var pending []*Invocation
	for _, inv := range r.audit {
		if inv.MissionID == missionID && inv.Err == "" && !inv.Deduplicated && !inv.RolledBack {
			pending = append(pending, inv)
		}
	}
	tools := make(map[string]Tool, len(r.tools))
	for name, tool := range r.tools {
		tools[name] = tool
	}
	r.mu.Unlock()

	var failures []error
	for i := len(pending) - 1; i >= 0; i-- {
		inv := pending[i]

		rev, ok := tools[inv.Tool].(Reversible)
		if !ok {
			continue
		}

		if err := rev.Rollback(ctx, inv); err != nil {
			failures = append(failures, fmt.Errorf("rollback of %s invocation %s: %w: %v", inv.Tool, inv.ID, types.ErrRollback, err))
			r.emitter(types.NewEvent(types.EventRollback, r.traceID, missionID).
				WithTask(inv.TaskID).
				With("tool", inv.Tool).
				With("invocation_id", inv.ID).
				With("error", err.Error()))
			continue
		}

		r.mu.Lock()
		inv.RolledBack = true
		r.mu.Unlock()

		r.emitter(types.NewEvent(types.EventRollback, r.traceID, missionID).
			WithTask(inv.TaskID).
			With("tool", inv.Tool).
			With("invocation_id", inv.ID))
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d rollback failure(s): %w", len(failures), failures[0])
	}
	return nil
}
