// Package cmd defines the deskmind command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deskmind-ai/deskmind/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "deskmind",
	Short: "Desktop AI assistant engine",
	Long: `deskmind is the backend engine of a desktop AI assistant: a local
daemon that routes queries to LLM providers, drives tool servers over
MCP, runs terminal commands behind an approval gate, and streams
everything to frontends over WebSocket.

Start the daemon with "deskmind serve", then attach a frontend or use
"deskmind ask" to run one-off queries from the shell.`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
