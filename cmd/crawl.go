// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates and configures the 'crawl' subcommand, which runs one
// full catalog harvest and exits.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one full catalog harvest",
		Long: `Walks the configured listing pages sequentially, harvests every
discovered detail page concurrently, and records inserts and updates in the
change log. The run summary is logged on completion.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := appInstance.NewRunner()
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, appInstance.Config().Crawler.StartURLs)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	appInstance.Logger().Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.SkippedTotal()),
	)
	return nil
}
