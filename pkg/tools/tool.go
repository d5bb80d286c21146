// Package tools provides the side-effect layer of the engine: tool
// implementations, the registry that mediates every invocation, and the audit
// log that records them.
//
// All tool access goes through the Registry. It enforces permissions, records
// every invocation attempt (including denied and failed ones), deduplicates
// re-invocations by idempotency key, and drives rollback when a mission is
// aborted.
package tools

import (
	"context"
	"time"
)

// Permission is a capability a tool requires and a caller may hold.
type Permission string

const (
	PermissionRead    Permission = "read"    // PermissionRead covers reading workspace files.
	PermissionWrite   Permission = "write"   // PermissionWrite covers creating and modifying workspace files.
	PermissionDelete  Permission = "delete"  // PermissionDelete covers removing workspace files.
	PermissionExecute Permission = "execute" // PermissionExecute covers running commands.
)

// PermissionSet is the set of permissions a caller holds.
type PermissionSet map[Permission]bool

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Covers reports whether the set includes every required permission.
func (s PermissionSet) Covers(required []Permission) bool {
	for _, p := range required {
		if !s[p] {
			return false
		}
	}
	return true
}

// Tool represents a capability agents can use to act on the environment.
// Implementations must be safe for concurrent invocation.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "write_file")
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// RequiredPermissions returns the permissions a caller must hold.
	RequiredPermissions() []Permission

	// Invoke runs the tool with the given arguments and returns a result map.
	Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Reversible is an optional interface for tools whose effects can be undone.
// The registry calls Rollback with the original invocation record during
// mission abort unwinding.
type Reversible interface {
	Rollback(ctx context.Context, inv *Invocation) error
}

// Invocation is the audit record of one tool invocation attempt. Records are
// appended for every attempt: succeeded, failed, denied, and deduplicated.
type Invocation struct {
	// ID uniquely identifies the record.
	ID string

	// MissionID and TaskID scope the invocation.
	MissionID string
	TaskID    string

	// Tool is the invoked tool's name.
	Tool string

	// Args are the invocation arguments as given.
	Args map[string]interface{}

	// IdempotencyKey deduplicates re-invocations of the same attempt.
	IdempotencyKey string

	// Result is the tool's result map, nil unless the invocation succeeded.
	Result map[string]interface{}

	// Err records the failure, empty on success.
	Err string

	// Deduplicated marks records where the effect was served from a prior
	// invocation with the same idempotency key.
	Deduplicated bool

	// RolledBack marks records whose effect was undone.
	RolledBack bool

	// Timestamp is when the invocation was attempted.
	Timestamp time.Time

	// done is non-nil while the invocation holds an idempotency-key
	// reservation, and is closed when the outcome is recorded.
	done chan struct{}
}
