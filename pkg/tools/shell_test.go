package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/foundry/pkg/types"
)

func newCommandMatcher(t *testing.T, allowed ...string) *CommandMatcher {
	t.Helper()
	matcher, err := NewCommandMatcher(allowed)
	if err != nil {
		t.Fatalf("NewCommandMatcher failed: %v", err)
	}
	return matcher
}

func TestShellTool(t *testing.T) {
	t.Run("runs an allowlisted command", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		shell := NewShellTool(ws, newCommandMatcher(t, "echo *"))

		result, err := shell.Invoke(context.Background(), map[string]interface{}{"command": "echo hello"})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if result["stdout"] != "hello" {
			t.Errorf("Unexpected stdout: %v", result["stdout"])
		}
		if result["exit_code"] != 0 {
			t.Errorf("Unexpected exit code: %v", result["exit_code"])
		}
	})

	t.Run("rejects commands off the allowlist", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		shell := NewShellTool(ws, newCommandMatcher(t, "echo *"))

		if _, err := shell.Invoke(context.Background(), map[string]interface{}{"command": "rm -rf /"}); !errors.Is(err, types.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("non-zero exit maps to execution error", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		shell := NewShellTool(ws, newCommandMatcher(t, "sh *"))

		if _, err := shell.Invoke(context.Background(), map[string]interface{}{"command": "sh -c 'exit 3'"}); !errors.Is(err, types.ErrExecution) {
			t.Errorf("Expected ErrExecution, got %v", err)
		}
	})
}

func TestRunCodeTool(t *testing.T) {
	writeScript := func(t *testing.T, ws *Workspace) {
		t.Helper()
		write := NewWriteFileTool(ws)
		if _, err := write.Invoke(context.Background(), map[string]interface{}{
			"path": "hello.sh", "content": "echo from-script\n",
		}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	t.Run("runs a script via its interpreter", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		writeScript(t, ws)
		run := NewRunCodeTool(ws, newCommandMatcher(t, "sh *"))

		result, err := run.Invoke(context.Background(), map[string]interface{}{"path": "hello.sh"})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if result["stdout"] != "from-script" {
			t.Errorf("Unexpected stdout: %v", result["stdout"])
		}
	})

	t.Run("unknown extension is invalid input", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		run := NewRunCodeTool(ws, newCommandMatcher(t, "*"))

		if _, err := run.Invoke(context.Background(), map[string]interface{}{"path": "data.csv"}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("assembled command must pass the allowlist", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		writeScript(t, ws)
		run := NewRunCodeTool(ws, newCommandMatcher(t, "python3 *"))

		if _, err := run.Invoke(context.Background(), map[string]interface{}{"path": "hello.sh"}); !errors.Is(err, types.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("denied paths are rejected before execution", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, []string{"vendor/*"})
		run := NewRunCodeTool(ws, newCommandMatcher(t, "*"))

		if _, err := run.Invoke(context.Background(), map[string]interface{}{"path": "vendor/x.sh"}); !errors.Is(err, types.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})
}

func TestRunTestsTool(t *testing.T) {
	t.Run("passing test command", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		run := NewRunTestsTool(ws, newCommandMatcher(t, "true"), "true")

		result, err := run.Invoke(context.Background(), nil)
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if result["passed"] != true {
			t.Errorf("Expected passed=true, got %v", result["passed"])
		}
	})

	t.Run("failing tests report passed=false with the output", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		run := NewRunTestsTool(ws, newCommandMatcher(t, "sh *"), "sh -c 'echo 2 assertions failed; exit 1'")

		result, err := run.Invoke(context.Background(), nil)
		if err != nil {
			t.Fatalf("A test failure is a result, not an invocation error: %v", err)
		}
		if result["passed"] != false {
			t.Errorf("Expected passed=false, got %v", result["passed"])
		}
		if result["exit_code"] != 1 {
			t.Errorf("Expected exit code 1, got %v", result["exit_code"])
		}
		if result["stdout"] != "2 assertions failed" {
			t.Errorf("Expected the captured output, got %v", result["stdout"])
		}
	})

	t.Run("no configured command is invalid input", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		run := NewRunTestsTool(ws, newCommandMatcher(t), "")

		if _, err := run.Invoke(context.Background(), nil); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("override command honors the allowlist", func(t *testing.T) {
		ws := newTestWorkspace(t, nil, nil)
		run := NewRunTestsTool(ws, newCommandMatcher(t, "true"), "true")

		if _, err := run.Invoke(context.Background(), map[string]interface{}{"command": "false"}); !errors.Is(err, types.ErrPermissionDenied) {
			t.Errorf("Expected ErrPermissionDenied, got %v", err)
		}
	})
}
