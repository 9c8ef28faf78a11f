// Package cmd provides the ember CLI.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: crawl and index product documentation
//   - version: build and configuration info
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ember0/ember/internal/config"
	"github.com/ember0/ember/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Ember - customer support agent for a transactional email platform",
	Long: `Ember is a chat-based customer support agent. It answers questions from
indexed product documentation and can send emails, check delivery status,
and list attachments through the platform API.

Run "ember serve" to start the HTTP API, or "ember ingest" to index the
documentation the agent answers from.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvironment loads configuration and builds the logger every
// subcommand shares.
func loadEnvironment() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	return cfg, logger, nil
}
