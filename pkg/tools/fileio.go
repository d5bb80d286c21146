package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entrhq/foundry/pkg/types"
)

// Workspace confines file tools to one directory tree with glob-based access
// control. Paths in tool arguments are workspace-relative.
type Workspace struct {
	root     string
	patterns *PatternMatcher
}

// NewWorkspace creates a workspace rooted at dir with the given path access
// patterns.
func NewWorkspace(dir string, patterns *PatternMatcher) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace dir: %w", err)
	}
	if patterns == nil {
		patterns, _ = NewPatternMatcher(nil, nil)
	}
	return &Workspace{root: abs, patterns: patterns}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// resolve maps a workspace-relative path to an absolute one, rejecting paths
// that escape the workspace or fail the access patterns.
func (w *Workspace) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("path is required: %w", types.ErrInvalidInput)
	}

	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("path %q escapes the workspace: %w", relPath, types.ErrPermissionDenied)
	}

	if !w.patterns.IsAllowed(cleaned) {
		return "", fmt.Errorf("path %q is not permitted: %w", relPath, types.ErrPermissionDenied)
	}

	return filepath.Join(w.root, cleaned), nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("'%s' argument is required: %w", key, types.ErrInvalidInput)
	}
	return value, nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	ws *Workspace
}

// NewReadFileTool creates a read_file tool bound to the workspace.
func NewReadFileTool(ws *Workspace) *ReadFileTool {
	return &ReadFileTool{ws: ws}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a workspace file" }
func (t *ReadFileTool) RequiredPermissions() []Permission {
	return []Permission{PermissionRead}
}

func (t *ReadFileTool) Invoke(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	relPath, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	path, err := t.ws.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w: %v", relPath, types.ErrExecution, err)
	}

	return map[string]interface{}{"path": relPath, "content": string(data)}, nil
}

// WriteFileTool creates or overwrites a workspace file. It is reversible:
// the prior content (or absence) is captured in the invocation record so
// rollback can restore it.
type WriteFileTool struct {
	ws *Workspace
}

// NewWriteFileTool creates a write_file tool bound to the workspace.
func NewWriteFileTool(ws *Workspace) *WriteFileTool {
	return &WriteFileTool{ws: ws}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Create or overwrite a workspace file" }
func (t *WriteFileTool) RequiredPermissions() []Permission {
	return []Permission{PermissionWrite}
}

func (t *WriteFileTool) Invoke(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	relPath, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("'content' argument is required: %w", types.ErrInvalidInput)
	}

	path, err := t.ws.resolve(relPath)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"path": relPath, "bytes": len(content)}
	if prior, err := os.ReadFile(path); err == nil {
		result["existed"] = true
		result["previous_content"] = string(prior)
	} else {
		result["existed"] = false
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directories for %s: %w: %v", relPath, types.ErrExecution, err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w: %v", relPath, types.ErrExecution, err)
	}

	return result, nil
}

// Rollback restores the file to its pre-invocation state.
func (t *WriteFileTool) Rollback(_ context.Context, inv *Invocation) error {
	relPath, _ := inv.Result["path"].(string)
	path, err := t.ws.resolve(relPath)
	if err != nil {
		return err
	}

	existed, _ := inv.Result["existed"].(bool)
	if !existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %v", relPath, err)
		}
		return nil
	}

	previous, _ := inv.Result["previous_content"].(string)
	if err := os.WriteFile(path, []byte(previous), 0600); err != nil {
		return fmt.Errorf("failed to restore %s: %v", relPath, err)
	}
	return nil
}

// DeleteFileTool removes a workspace file. Reversible: the deleted content is
// captured for restore.
type DeleteFileTool struct {
	ws *Workspace
}

// NewDeleteFileTool creates a delete_file tool bound to the workspace.
func NewDeleteFileTool(ws *Workspace) *DeleteFileTool {
	return &DeleteFileTool{ws: ws}
}

func (t *DeleteFileTool) Name() string        { return "delete_file" }
func (t *DeleteFileTool) Description() string { return "Delete a workspace file" }
func (t *DeleteFileTool) RequiredPermissions() []Permission {
	return []Permission{PermissionDelete}
}

func (t *DeleteFileTool) Invoke(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	relPath, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	path, err := t.ws.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s before delete: %w: %v", relPath, types.ErrExecution, err)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w: %v", relPath, types.ErrExecution, err)
	}

	return map[string]interface{}{"path": relPath, "previous_content": string(data)}, nil
}

// Rollback restores the deleted file.
func (t *DeleteFileTool) Rollback(_ context.Context, inv *Invocation) error {
	relPath, _ := inv.Result["path"].(string)
	path, err := t.ws.resolve(relPath)
	if err != nil {
		return err
	}

	previous, _ := inv.Result["previous_content"].(string)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directories for %s: %v", relPath, err)
	}
	if err := os.WriteFile(path, []byte(previous), 0600); err != nil {
		return fmt.Errorf("failed to restore %s: %v", relPath, err)
	}
	return nil
}

// ListFilesTool lists workspace files matching the access patterns.
type ListFilesTool struct {
	ws *Workspace
}

// NewListFilesTool creates a list_files tool bound to the workspace.
func NewListFilesTool(ws *Workspace) *ListFilesTool {
	return &ListFilesTool{ws: ws}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List workspace files" }
func (t *ListFilesTool) RequiredPermissions() []Permission {
	return []Permission{PermissionRead}
}

func (t *ListFilesTool) Invoke(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	var files []string
	err := filepath.WalkDir(t.ws.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(t.ws.root, path)
		if err != nil {
			return err
		}
		if t.ws.patterns.IsAllowed(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w: %v", types.ErrExecution, err)
	}

	sort.Strings(files)
	return map[string]interface{}{"files": files, "count": len(files)}, nil
}
