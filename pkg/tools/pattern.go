package tools

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// PatternMatcher handles glob pattern matching for file access control.
// Denied patterns take precedence over allowed ones; an empty allow list
// permits everything not denied.
type PatternMatcher struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPatternMatcher compiles the given allow and deny glob patterns.
func NewPatternMatcher(allowed, denied []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		pm.allowedPatterns = append(pm.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		pm.deniedPatterns = append(pm.deniedPatterns, g)
	}

	return pm, nil
}

// IsAllowed returns true if the path is allowed by the pattern rules.
func (pm *PatternMatcher) IsAllowed(path string) bool {
	path = filepath.Clean(path)

	for _, pattern := range pm.deniedPatterns {
		if pattern.Match(path) {
			return false
		}
	}

	if len(pm.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range pm.allowedPatterns {
		if pattern.Match(path) {
			return true
		}
	}

	return false
}

// CommandMatcher matches shell commands against an allowlist of glob
// patterns. An empty allowlist denies every command.
type CommandMatcher struct {
	patterns []glob.Glob
}

// NewCommandMatcher compiles the given command allowlist patterns.
func NewCommandMatcher(allowed []string) (*CommandMatcher, error) {
	cm := &CommandMatcher{}
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid command pattern '%s': %w", pattern, err)
		}
		cm.patterns = append(cm.patterns, g)
	}
	return cm, nil
}

// IsAllowed returns true if the command matches any allowlist pattern.
func (cm *CommandMatcher) IsAllowed(command string) bool {
	for _, pattern := range cm.patterns {
		if pattern.Match(command) {
			return true
		}
	}
	return false
}
