// Command portero runs the Portero MCP gateway: a policy-mediating
// aggregator that sits between MCP clients and a set of backend MCP
// servers, enforcing allow/deny/require-approval decisions and routing
// anything needing a human through an out-of-band chat channel.
//
// # Basic Usage
//
// Start the gateway:
//
//	portero serve --config portero.yaml
//
// Validate configuration without starting anything:
//
//	portero doctor --config portero.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

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

// buildRootCmd creates the root command with its subcommands attached.
// Separated from main() so tests can exercise it without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portero",
		Short: "Portero - policy-mediating MCP gateway",
		Long: `Portero sits between MCP clients and a set of backend MCP servers. It
aggregates their tools and resources under namespaced names, anonymizes
configured literal strings in both directions, and resolves every tool call
against a layered allow/deny/require-approval policy before it reaches a
backend. Calls requiring approval are parked as tasks and routed to a human
over a chat channel (Slack, Discord, or Telegram); the client polls or is
notified when the task resolves.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildDoctorCmd())
	return rootCmd
}
