// Package config defines the orchestration engine configuration, loaded from
// YAML or built programmatically. All knobs the engine honors live here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/foundry/pkg/types"
)

// StoppingMode selects how the engine reacts to task escalations.
type StoppingMode string

const (
	// StopStrict fails the mission on any task escalation.
	StopStrict StoppingMode = "strict"
	// StopAdaptive continues past escalated non-critical tasks while the
	// mission average quality stays at or above QualityThreshold.
	StopAdaptive StoppingMode = "adaptive"
)

// RetryStrategy selects the delay schedule between task retry attempts.
type RetryStrategy string

const (
	// RetryImmediate retries with no delay.
	RetryImmediate RetryStrategy = "immediate"
	// RetryLinear waits attempt * base delay between retries.
	RetryLinear RetryStrategy = "linear"
	// RetryExponential doubles the delay per attempt, capped at one minute.
	RetryExponential RetryStrategy = "exponential"
)

// Config is the full orchestration engine configuration.
type Config struct {
	// Mission execution limits
	Mission MissionConfig `yaml:"mission" json:"mission"`

	// Task retry and escalation behavior
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Approval gate behavior
	Approval ApprovalConfig `yaml:"approval" json:"approval"`

	// Tool sandboxing
	Tools ToolConfig `yaml:"tools" json:"tools"`

	// Workspace directory tools operate in
	WorkspaceDir string `yaml:"workspace_dir" json:"workspace_dir"`
}

// MissionConfig bounds the execution of a single mission.
type MissionConfig struct {
	// MaxConcurrentTasks caps the scheduler worker pool.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`

	// TaskTimeout bounds a single task attempt. A timed-out attempt counts
	// as a failed attempt.
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`

	// StoppingMode decides mission fate when a task escalates.
	StoppingMode StoppingMode `yaml:"stopping_mode" json:"stopping_mode"`

	// QualityThreshold is the minimum mission average score adaptive mode
	// requires to continue past an escalation. Ignored in strict mode.
	QualityThreshold float64 `yaml:"quality_threshold" json:"quality_threshold"`
}

// RetryConfig controls per-task retry behavior.
type RetryConfig struct {
	// MaxRetries bounds total attempts per task. The failure count
	// increments on every failed attempt; the task escalates once the count
	// reaches this value. Zero escalates on the first failure.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Strategy selects the delay schedule between attempts.
	Strategy RetryStrategy `yaml:"strategy" json:"strategy"`

	// BaseDelay is the unit delay for linear and exponential strategies.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
}

// ApprovalConfig controls the human approval gates.
type ApprovalConfig struct {
	// AutoApprove lists milestones resolved automatically without a human.
	AutoApprove []types.Milestone `yaml:"auto_approve" json:"auto_approve"`

	// Timeout bounds how long the engine waits for a resolution. Zero means
	// wait until the mission context is cancelled.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ToolConfig restricts what registered tools may touch.
type ToolConfig struct {
	// AllowedPathPatterns are glob patterns file tools may read or write,
	// relative to the workspace. Empty allows the whole workspace.
	AllowedPathPatterns []string `yaml:"allowed_path_patterns" json:"allowed_path_patterns"`

	// DeniedPathPatterns are glob patterns file tools must never touch.
	// Deny wins over allow.
	DeniedPathPatterns []string `yaml:"denied_path_patterns" json:"denied_path_patterns"`

	// AllowedCommands are glob patterns of shell commands the runner may
	// execute. Empty denies all shell execution.
	AllowedCommands []string `yaml:"allowed_commands" json:"allowed_commands"`

	// TestCommand is the default command the run_tests tool executes. It must
	// also match AllowedCommands.
	TestCommand string `yaml:"test_command" json:"test_command"`
}

// AutoApproved reports whether the milestone is configured for automatic
// approval.
func (c *ApprovalConfig) AutoApproved(m types.Milestone) bool {
	for _, auto := range c.AutoApprove {
		if auto == m {
			return true
		}
	}
	return false
}

// Validate validates the configuration, filling defaulted fields in place.
func (c *Config) Validate() error {
	if c.Mission.MaxConcurrentTasks < 0 {
		return fmt.Errorf("max_concurrent_tasks cannot be negative")
	}
	if c.Mission.MaxConcurrentTasks == 0 {
		c.Mission.MaxConcurrentTasks = 4
	}

	if c.Mission.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout cannot be negative")
	}
	if c.Mission.TaskTimeout == 0 {
		c.Mission.TaskTimeout = 5 * time.Minute
	}

	if c.Mission.StoppingMode == "" {
		c.Mission.StoppingMode = StopStrict
	}
	if c.Mission.StoppingMode != StopStrict && c.Mission.StoppingMode != StopAdaptive {
		return fmt.Errorf("invalid stopping_mode: %s (must be 'strict' or 'adaptive')", c.Mission.StoppingMode)
	}
	if c.Mission.StoppingMode == StopAdaptive {
		if c.Mission.QualityThreshold <= 0 || c.Mission.QualityThreshold > 1 {
			return fmt.Errorf("adaptive stopping_mode requires quality_threshold in (0, 1], got %v", c.Mission.QualityThreshold)
		}
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if c.Retry.Strategy == "" {
		c.Retry.Strategy = RetryImmediate
	}
	switch c.Retry.Strategy {
	case RetryImmediate, RetryLinear, RetryExponential:
	default:
		return fmt.Errorf("invalid retry strategy: %s (must be 'immediate', 'linear', or 'exponential')", c.Retry.Strategy)
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}

	for _, m := range c.Approval.AutoApprove {
		switch m {
		case types.MilestoneMissionPlan, types.MilestoneDecompositionPlan, types.MilestoneFinalDelivery:
		default:
			return fmt.Errorf("unknown auto_approve milestone: %s", m)
		}
	}

	return nil
}

// RetryDelay returns the delay to wait before the given retry attempt
// (1-based). Exponential delays are capped at one minute.
func (c *RetryConfig) RetryDelay(attempt int) time.Duration {
	switch c.Strategy {
	case RetryLinear:
		return time.Duration(attempt) * c.BaseDelay
	case RetryExponential:
		d := c.BaseDelay << (attempt - 1)
		if d > time.Minute || d <= 0 {
			return time.Minute
		}
		return d
	default:
		return 0
	}
}

// Default returns a configuration suitable for most missions: strict
// stopping, two retries with immediate re-attempt, every milestone gated.
func Default() *Config {
	return &Config{
		Mission: MissionConfig{
			MaxConcurrentTasks: 4,
			TaskTimeout:        5 * time.Minute,
			StoppingMode:       StopStrict,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			Strategy:   RetryImmediate,
			BaseDelay:  time.Second,
		},
		WorkspaceDir: ".",
	}
}

// Load reads and validates a configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
