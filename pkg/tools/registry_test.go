package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/foundry/pkg/types"
)

// recordingTool counts real invocations and remembers rollback order. When
// release is set, Invoke blocks on it before returning.
type recordingTool struct {
	name        string
	permissions []Permission
	failWith    error
	release     chan struct{}

	mu          sync.Mutex
	invocations int
	rollbacks   []string
	rollbackErr error
}

func (t *recordingTool) Name() string                      { return t.name }
func (t *recordingTool) Description() string               { return "test tool" }
func (t *recordingTool) RequiredPermissions() []Permission { return t.permissions }

func (t *recordingTool) Invoke(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	t.mu.Lock()
	t.invocations++
	n := t.invocations
	t.mu.Unlock()

	if t.release != nil {
		<-t.release
	}
	if t.failWith != nil {
		return nil, t.failWith
	}
	return map[string]interface{}{"invocation": n, "marker": args["marker"]}, nil
}

func (t *recordingTool) Rollback(_ context.Context, inv *Invocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	marker, _ := inv.Result["marker"].(string)
	t.rollbacks = append(t.rollbacks, marker)
	return nil
}

func newTestRegistry(tool Tool) *Registry {
	r := NewRegistry("trace-1", nil)
	r.Register(tool)
	return r
}

func TestInvoke(t *testing.T) {
	t.Run("unknown tool returns not found", func(t *testing.T) {
		r := NewRegistry("trace-1", nil)
		_, err := r.Invoke(context.Background(), InvokeRequest{MissionID: "m1", Tool: "absent"})
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if len(r.AuditLog("m1")) != 1 {
			t.Error("Denied lookups should still be audited")
		}
	})

	t.Run("missing permission is denied and audited", func(t *testing.T) {
		tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
		r := newTestRegistry(tool)

		_, err := r.Invoke(context.Background(), InvokeRequest{
			MissionID:   "m1",
			Tool:        "writer",
			Permissions: NewPermissionSet(PermissionRead),
		})
		if !errors.Is(err, types.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
		if tool.invocations != 0 {
			t.Error("Denied invocation must not reach the tool")
		}

		log := r.AuditLog("m1")
		if len(log) != 1 || log[0].Err == "" {
			t.Error("Denied invocation should be audited with its error")
		}
	})

	t.Run("success is audited with result", func(t *testing.T) {
		tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
		r := newTestRegistry(tool)

		result, err := r.Invoke(context.Background(), InvokeRequest{
			MissionID:   "m1",
			TaskID:      "t1",
			Tool:        "writer",
			Permissions: NewPermissionSet(PermissionWrite),
		})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if result["invocation"] != 1 {
			t.Errorf("Unexpected result: %v", result)
		}

		log := r.AuditLog("m1")
		if len(log) != 1 || log[0].TaskID != "t1" || log[0].Err != "" {
			t.Errorf("Unexpected audit record: %+v", log[0])
		}
	})
}

// A repeated idempotency key must not re-execute the effect, but every
// attempt still gets its own audit record.
func TestIdempotentReinvocation(t *testing.T) {
	tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
	r := newTestRegistry(tool)

	req := InvokeRequest{
		MissionID:      "m1",
		TaskID:         "t1",
		Tool:           "writer",
		Permissions:    NewPermissionSet(PermissionWrite),
		IdempotencyKey: "t1-attempt-1",
	}

	first, err := r.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("First invoke failed: %v", err)
	}
	second, err := r.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Second invoke failed: %v", err)
	}

	if tool.invocations != 1 {
		t.Errorf("Expected one real invocation, got %d", tool.invocations)
	}
	if first["invocation"] != second["invocation"] {
		t.Error("Deduplicated invocation should return the recorded result")
	}

	log := r.AuditLog("m1")
	if len(log) != 2 {
		t.Fatalf("Expected two audit records, got %d", len(log))
	}
	if log[0].Deduplicated || !log[1].Deduplicated {
		t.Error("Only the second record should be marked deduplicated")
	}
}

// Two concurrent invocations with the same key produce one real execution:
// the second waits for the first to settle and is served its result.
func TestConcurrentIdempotentInvocations(t *testing.T) {
	tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}, release: make(chan struct{})}
	r := newTestRegistry(tool)

	req := InvokeRequest{
		MissionID:      "m1",
		Tool:           "writer",
		Permissions:    NewPermissionSet(PermissionWrite),
		IdempotencyKey: "t1-attempt-1",
	}

	results := make(chan map[string]interface{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			result, err := r.Invoke(context.Background(), req)
			if err != nil {
				t.Errorf("Invoke failed: %v", err)
			}
			results <- result
		}()
	}

	// Let both callers reach the registry before the tool is allowed to
	// finish.
	time.Sleep(20 * time.Millisecond)
	close(tool.release)

	first, second := <-results, <-results
	if tool.invocations != 1 {
		t.Errorf("Expected one real invocation, got %d", tool.invocations)
	}
	if first["invocation"] != second["invocation"] {
		t.Error("Both callers should observe the same recorded result")
	}

	log := r.AuditLog("m1")
	if len(log) != 2 {
		t.Fatalf("Expected two audit records, got %d", len(log))
	}
	deduplicated := 0
	for _, inv := range log {
		if inv.Deduplicated {
			deduplicated++
		}
	}
	if deduplicated != 1 {
		t.Errorf("Expected exactly one deduplicated record, got %d", deduplicated)
	}
}

// A failed attempt does not consume the idempotency key: the retry executes
// for real.
func TestIdempotencyKeyAfterFailure(t *testing.T) {
	tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}, failWith: fmt.Errorf("boom: %w", types.ErrExecution)}
	r := newTestRegistry(tool)

	req := InvokeRequest{
		MissionID:      "m1",
		Tool:           "writer",
		Permissions:    NewPermissionSet(PermissionWrite),
		IdempotencyKey: "t1-attempt-1",
	}

	if _, err := r.Invoke(context.Background(), req); !errors.Is(err, types.ErrExecution) {
		t.Fatalf("Expected execution error, got %v", err)
	}

	tool.failWith = nil
	if _, err := r.Invoke(context.Background(), req); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	if tool.invocations != 2 {
		t.Errorf("Expected retry to re-execute, got %d invocations", tool.invocations)
	}
}

func TestRollbackMission(t *testing.T) {
	t.Run("unwinds in reverse chronological order", func(t *testing.T) {
		tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
		r := newTestRegistry(tool)

		for _, marker := range []string{"i1", "i2", "i3"} {
			_, err := r.Invoke(context.Background(), InvokeRequest{
				MissionID:   "m1",
				Tool:        "writer",
				Args:        map[string]interface{}{"marker": marker},
				Permissions: NewPermissionSet(PermissionWrite),
			})
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
		}

		if err := r.RollbackMission(context.Background(), "m1"); err != nil {
			t.Fatalf("RollbackMission failed: %v", err)
		}

		want := []string{"i3", "i2", "i1"}
		if len(tool.rollbacks) != len(want) {
			t.Fatalf("Expected %d rollbacks, got %d", len(want), len(tool.rollbacks))
		}
		for i, marker := range want {
			if tool.rollbacks[i] != marker {
				t.Errorf("Rollback %d: expected %s, got %s", i, marker, tool.rollbacks[i])
			}
		}
	})

	t.Run("skips deduplicated and failed invocations", func(t *testing.T) {
		tool := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
		r := newTestRegistry(tool)

		req := InvokeRequest{
			MissionID:      "m1",
			Tool:           "writer",
			Args:           map[string]interface{}{"marker": "once"},
			Permissions:    NewPermissionSet(PermissionWrite),
			IdempotencyKey: "key-1",
		}
		if _, err := r.Invoke(context.Background(), req); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if _, err := r.Invoke(context.Background(), req); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}

		if err := r.RollbackMission(context.Background(), "m1"); err != nil {
			t.Fatalf("RollbackMission failed: %v", err)
		}
		if len(tool.rollbacks) != 1 {
			t.Errorf("Expected one rollback for one effect, got %d", len(tool.rollbacks))
		}
	})

	t.Run("rollback failure is surfaced and does not stop others", func(t *testing.T) {
		failing := &recordingTool{name: "failer", permissions: []Permission{PermissionWrite}, rollbackErr: errors.New("cannot undo")}
		ok := &recordingTool{name: "writer", permissions: []Permission{PermissionWrite}}
		r := NewRegistry("trace-1", nil)
		r.Register(failing)
		r.Register(ok)

		perms := NewPermissionSet(PermissionWrite)
		if _, err := r.Invoke(context.Background(), InvokeRequest{MissionID: "m1", Tool: "writer", Args: map[string]interface{}{"marker": "a"}, Permissions: perms}); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if _, err := r.Invoke(context.Background(), InvokeRequest{MissionID: "m1", Tool: "failer", Permissions: perms}); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}

		err := r.RollbackMission(context.Background(), "m1")
		if !errors.Is(err, types.ErrRollback) {
			t.Errorf("Expected ErrRollback, got %v", err)
		}
		if len(ok.rollbacks) != 1 {
			t.Error("Rollback should continue past a failing invocation")
		}
	})
}
