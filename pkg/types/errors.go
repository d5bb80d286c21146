package types

import "errors"

// Error taxonomy for the orchestration engine. Components wrap these
// sentinels with fmt.Errorf("...: %w", ...) so callers classify failures with
// errors.Is without depending on message text.
var (
	// ErrGenerationFailure signals a transient agent failure. Retryable.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrInvalidInput signals the task itself is malformed. Not retryable;
	// the controller escalates instead.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied signals the caller's permission set does not cover
	// the requested tool operation. Fatal to the invoking task, but does not
	// by itself fail the mission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrExecution signals the underlying tool action failed. Retryable up
	// to tool-specific policy.
	ErrExecution = errors.New("execution error")

	// ErrRollback signals a rollback attempt failed. Never swallowed: it is
	// logged and surfaced as a partial-rollback flag on the mission.
	ErrRollback = errors.New("rollback error")

	// ErrApprovalRejected signals a human rejected a milestone. Terminal for
	// the gated phase.
	ErrApprovalRejected = errors.New("approval rejected")

	// ErrNotFound signals a registry lookup miss (unknown tool, agent, or
	// invocation).
	ErrNotFound = errors.New("not found")
)

// Retryable reports whether err is in the transient class the controller may
// retry. Timeouts are mapped onto ErrExecution by the controller and are
// therefore retryable too.
func Retryable(err error) bool {
	return errors.Is(err, ErrGenerationFailure) || errors.Is(err, ErrExecution)
}
