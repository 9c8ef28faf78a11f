package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ember0/ember/internal/app"
)

var ingestURLs []string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Crawl and index product documentation",
	Long: `Fetch documentation pages, split them into chunks, embed each chunk,
and store the results in the knowledge base.

Without flags the configured docs_urls are ingested. Pass --url one or
more times to index specific pages instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestURLs, "url", nil, "documentation page URL (repeatable, overrides config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	urls := ingestURLs
	if len(urls) == 0 {
		urls = cfg.DocsURLs
	}
	if len(urls) == 0 {
		return fmt.Errorf("no documentation URLs configured")
	}

	result, err := a.Ingestor.IngestURLs(ctx, urls)
	if err != nil {
		return fmt.Errorf("ingesting documentation: %w", err)
	}

	fmt.Printf("Indexed %d pages (%d chunks, %d failed)\n", result.Pages, result.Chunks, result.Failed)
	return nil
}
