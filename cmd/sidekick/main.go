// Package main provides the CLI entry point for the sidekick agent.
//
// Sidekick runs a reasoning-acting loop over configurable LLM endpoint
// pools with builtin tools, persistent memory and a task scheduler.
//
// # Basic Usage
//
// Start the headless agent service:
//
//	sidekick serve --config sidekick.yaml
//
// Talk to the agent from the terminal:
//
//	sidekick chat --config sidekick.yaml
//
// # Environment Variables
//
//   - SIDEKICK_CONFIG: Path to configuration file (default: sidekick.yaml)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY: referenced from
//     the config file via ${ENV} expansion
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "sidekick.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "Sidekick - personal AI agent",
		Long: `Sidekick runs an agent loop over your configured LLM endpoints.

It routes requests by capability with automatic failover, executes tools
(shell, files, web search, MCP servers), keeps long-term memory and runs
scheduled tasks.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the SIDEKICK_CONFIG override when the flag is
// left at its default.
func resolveConfigPath(path string) string {
	if path == "" || path == defaultConfigName {
		if env := os.Getenv("SIDEKICK_CONFIG"); env != "" {
			return env
		}
	}
	if path == "" {
		return defaultConfigName
	}
	return path
}
