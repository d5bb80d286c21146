package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/entrhq/foundry/pkg/types"
)

// ShellTool runs allowlisted shell commands inside the workspace. Commands
// not matching the allowlist are rejected before execution. Not reversible:
// command side effects are the command's own business.
type ShellTool struct {
	ws      *Workspace
	matcher *CommandMatcher
}

// NewShellTool creates an execute_command tool bound to the workspace with
// the given command allowlist.
func NewShellTool(ws *Workspace, matcher *CommandMatcher) *ShellTool {
	return &ShellTool{ws: ws, matcher: matcher}
}

func (t *ShellTool) Name() string        { return "execute_command" }
func (t *ShellTool) Description() string { return "Run an allowlisted shell command in the workspace" }
func (t *ShellTool) RequiredPermissions() []Permission {
	return []Permission{PermissionExecute}
}

// Invoke runs the command with the invocation context, so task timeouts and
// mission aborts kill the process.
func (t *ShellTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}

	if !t.matcher.IsAllowed(command) {
		return nil, fmt.Errorf("command %q is not allowlisted: %w", command, types.ErrPermissionDenied)
	}

	return runInWorkspace(ctx, t.ws, command)
}

// runInWorkspace executes command via sh -c with the workspace as the working
// directory, capturing output. A non-zero exit wraps ErrExecution; the result
// map is returned alongside the error so callers can inspect the output.
func runInWorkspace(ctx context.Context, ws *Workspace, command string) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = ws.Root()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := map[string]interface{}{
		"command": command,
		"stdout":  strings.TrimRight(stdout.String(), "\n"),
		"stderr":  strings.TrimRight(stderr.String(), "\n"),
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result["exit_code"] = exitErr.ExitCode()
		}
		return result, fmt.Errorf("command %q failed: %w: %v", command, types.ErrExecution, runErr)
	}

	result["exit_code"] = 0
	return result, nil
}

// interpreters maps source file extensions to the command that runs them.
var interpreters = map[string]string{
	".sh": "sh",
	".py": "python3",
	".js": "node",
	".go": "go run",
}

// RunCodeTool executes a workspace source file with the interpreter matching
// its extension. The assembled command must still pass the allowlist. Not
// reversible.
type RunCodeTool struct {
	ws      *Workspace
	matcher *CommandMatcher
}

// NewRunCodeTool creates a run_code tool bound to the workspace with the
// given command allowlist.
func NewRunCodeTool(ws *Workspace, matcher *CommandMatcher) *RunCodeTool {
	return &RunCodeTool{ws: ws, matcher: matcher}
}

func (t *RunCodeTool) Name() string        { return "run_code" }
func (t *RunCodeTool) Description() string { return "Execute a workspace source file" }
func (t *RunCodeTool) RequiredPermissions() []Permission {
	return []Permission{PermissionRead, PermissionExecute}
}

func (t *RunCodeTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	relPath, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if _, err := t.ws.resolve(relPath); err != nil {
		return nil, err
	}

	interp, ok := interpreters[filepath.Ext(relPath)]
	if !ok {
		return nil, fmt.Errorf("no interpreter for %q: %w", relPath, types.ErrInvalidInput)
	}

	command := interp + " " + relPath
	if extra, ok := args["args"].(string); ok && extra != "" {
		command += " " + extra
	}
	if !t.matcher.IsAllowed(command) {
		return nil, fmt.Errorf("command %q is not allowlisted: %w", command, types.ErrPermissionDenied)
	}

	return runInWorkspace(ctx, t.ws, command)
}

// RunTestsTool runs the workspace test command and reports pass/fail. A test
// failure is a result with passed=false and the captured output, not an
// invocation error, so a tester agent can read what broke. The command comes
// from configuration; an invocation may override it with a "command" argument,
// subject to the same allowlist. Not reversible.
type RunTestsTool struct {
	ws      *Workspace
	matcher *CommandMatcher
	command string
}

// NewRunTestsTool creates a run_tests tool bound to the workspace. command is
// the default test command.
func NewRunTestsTool(ws *Workspace, matcher *CommandMatcher, command string) *RunTestsTool {
	return &RunTestsTool{ws: ws, matcher: matcher, command: command}
}

func (t *RunTestsTool) Name() string        { return "run_tests" }
func (t *RunTestsTool) Description() string { return "Run the workspace test command" }
func (t *RunTestsTool) RequiredPermissions() []Permission {
	return []Permission{PermissionExecute}
}

func (t *RunTestsTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	command := t.command
	if override, ok := args["command"].(string); ok && override != "" {
		command = override
	}
	if command == "" {
		return nil, fmt.Errorf("no test command configured: %w", types.ErrInvalidInput)
	}
	if !t.matcher.IsAllowed(command) {
		return nil, fmt.Errorf("command %q is not allowlisted: %w", command, types.ErrPermissionDenied)
	}

	result, err := runInWorkspace(ctx, t.ws, command)
	if err != nil {
		if ctx.Err() != nil || result == nil {
			return nil, err
		}
		if _, ran := result["exit_code"]; !ran {
			return nil, err
		}
		result["passed"] = false
		return result, nil
	}
	result["passed"] = true
	return result, nil
}
