// Package main provides the Foundry headless orchestration runner. It wires
// the agent roster, tool registry, and approval gates, then drives a single
// mission to a terminal state and prints the structured result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/foundry/pkg/agent"
	"github.com/entrhq/foundry/pkg/config"
	"github.com/entrhq/foundry/pkg/flow"
	"github.com/entrhq/foundry/pkg/llm"
	"github.com/entrhq/foundry/pkg/llm/mock"
	"github.com/entrhq/foundry/pkg/llm/openai"
	"github.com/entrhq/foundry/pkg/logging"
	"github.com/entrhq/foundry/pkg/tools"
	"github.com/entrhq/foundry/pkg/types"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Goal        string
	ConfigFile  string
	Workspace   string
	APIKey      string
	BaseURL     string
	Model       string
	UseMock     bool
	AutoApprove bool
	Timeout     time.Duration
	OutputFile  string
	Verbose     bool
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("Foundry v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.Goal, "goal", "", "Mission goal (required)")
	flag.StringVar(&cliConfig.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cliConfig.Workspace, "workspace", ".", "Workspace directory tools operate in")
	flag.StringVar(&cliConfig.APIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	flag.StringVar(&cliConfig.BaseURL, "base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI API base URL")
	flag.StringVar(&cliConfig.Model, "model", "", "LLM model to use")
	flag.BoolVar(&cliConfig.UseMock, "mock", false, "Use the deterministic mock LLM provider")
	flag.BoolVar(&cliConfig.AutoApprove, "auto-approve", false, "Auto-approve every milestone (headless runs)")
	flag.DurationVar(&cliConfig.Timeout, "timeout", 30*time.Minute, "Mission timeout")
	flag.StringVar(&cliConfig.OutputFile, "output", "", "Write the mission result JSON to this file instead of stdout")
	flag.BoolVar(&cliConfig.Verbose, "verbose", false, "Print orchestration events to stderr")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Foundry - Multi-Agent Orchestration Engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: foundry [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run a mission with auto-approved milestones\n")
		fmt.Fprintf(os.Stderr, "  foundry -goal \"Build a CSV parsing library\" -auto-approve\n\n")
		fmt.Fprintf(os.Stderr, "  # Offline dry run with the mock provider\n")
		fmt.Fprintf(os.Stderr, "  foundry -goal \"Build a CSV parsing library\" -mock -auto-approve\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with a config file\n")
		fmt.Fprintf(os.Stderr, "  foundry -goal \"...\" -config foundry.yaml\n\n")
	}

	flag.Parse()
	return cliConfig
}

func run(ctx context.Context, cliConfig *CLIConfig) error {
	if cliConfig.Goal == "" {
		flag.Usage()
		return fmt.Errorf("goal is required")
	}

	cfg, err := loadConfig(cliConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logErr := logging.NewLogger("foundry")
	if logErr != nil {
		log.Printf("Warning: file logging unavailable: %v", logErr)
	}
	defer logger.Close()

	provider, err := buildProvider(cliConfig)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	agents := agent.NewRegistry()
	for _, a := range agent.DefaultAgents(provider) {
		if regErr := agents.Register(a); regErr != nil {
			return fmt.Errorf("failed to register agent: %w", regErr)
		}
	}

	registry, err := buildToolRegistry(cfg, emitterFor(cliConfig, logger))
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	engine, err := flow.New(flow.Options{
		Config:  cfg,
		Agents:  agents,
		Tools:   registry,
		Emitter: emitterFor(cliConfig, logger),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create execution flow: %w", err)
	}

	if cliConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cliConfig.Timeout)
		defer cancel()
	}

	log.Printf("Starting mission: %s", cliConfig.Goal)
	log.Printf("Provider: %s", provider.Model())
	log.Printf("Workspace: %s", cfg.WorkspaceDir)

	result := engine.ExecuteMission(ctx, cliConfig.Goal)

	if err := writeResult(cliConfig.OutputFile, result); err != nil {
		return err
	}

	if result.Status != types.MissionSucceeded {
		return fmt.Errorf("mission %s: %s", result.Status, result.Reason)
	}

	log.Printf("Mission completed successfully in %s", result.Metrics.Duration)
	return nil
}

// loadConfig loads the engine configuration from file or CLI arguments.
func loadConfig(cliConfig *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliConfig.ConfigFile != "" {
		loaded, err := config.Load(cliConfig.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cliConfig.Workspace != "" {
		cfg.WorkspaceDir = cliConfig.Workspace
	}
	if cliConfig.AutoApprove {
		cfg.Approval.AutoApprove = []types.Milestone{
			types.MilestoneMissionPlan,
			types.MilestoneDecompositionPlan,
			types.MilestoneFinalDelivery,
		}
	}

	return cfg, cfg.Validate()
}

// buildProvider selects the LLM provider from CLI flags.
func buildProvider(cliConfig *CLIConfig) (llm.Provider, error) {
	if cliConfig.UseMock {
		return mock.NewProvider(), nil
	}

	var opts []openai.ProviderOption
	if cliConfig.Model != "" {
		opts = append(opts, openai.WithModel(cliConfig.Model))
	}
	if cliConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cliConfig.BaseURL))
	}
	return openai.NewProvider(cliConfig.APIKey, opts...)
}

// buildToolRegistry registers the workspace tools, sandboxed by the
// configured path and command patterns.
func buildToolRegistry(cfg *config.Config, emitter types.EventEmitter) (*tools.Registry, error) {
	patterns, err := tools.NewPatternMatcher(cfg.Tools.AllowedPathPatterns, cfg.Tools.DeniedPathPatterns)
	if err != nil {
		return nil, err
	}
	ws, err := tools.NewWorkspace(cfg.WorkspaceDir, patterns)
	if err != nil {
		return nil, err
	}
	commands, err := tools.NewCommandMatcher(cfg.Tools.AllowedCommands)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry("", emitter)
	registry.Register(tools.NewReadFileTool(ws))
	registry.Register(tools.NewWriteFileTool(ws))
	registry.Register(tools.NewDeleteFileTool(ws))
	registry.Register(tools.NewListFilesTool(ws))
	registry.Register(tools.NewShellTool(ws, commands))
	registry.Register(tools.NewRunCodeTool(ws, commands))
	registry.Register(tools.NewRunTestsTool(ws, commands, cfg.Tools.TestCommand))
	return registry, nil
}

// emitterFor routes orchestration events to the session log, and to stderr
// when verbose.
func emitterFor(cliConfig *CLIConfig, logger *logging.Logger) types.EventEmitter {
	return func(e *types.Event) {
		logger.Debugf("event %s mission=%s task=%s payload=%v", e.Kind, e.MissionID, e.TaskID, e.Payload)
		if cliConfig.Verbose {
			fmt.Fprintf(os.Stderr, "[%s] %s %v\n", e.Kind, e.TaskID, e.Payload)
		}
	}
}

// writeResult prints the mission result as indented JSON.
func writeResult(path string, result *types.MissionResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}
