package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/report"
)

// newScheduleCmd creates the 'schedule' subcommand, which crawls the catalog
// on a fixed cadence and writes a change report after each run.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs crawls on a fixed interval",
		Long: `Runs one harvest immediately, then repeats on the configured interval
until interrupted. After each run the change log for the elapsed interval is
rendered into JSON and CSV artifacts.`,

		RunE: runScheduleCommand,
	}
	return cmd
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	interval := appInstance.Config().ScheduleInterval()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := appInstance.NewRunner()
	if err != nil {
		return err
	}
	reporter := appInstance.NewReporter()

	runOnce := func() {
		summary, err := runner.Run(ctx, appInstance.Config().Crawler.StartURLs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("scheduled crawl failed", zap.Error(err))
			return
		}
		artifacts, err := reporter.Generate(ctx, reportWindow(summary))
		if err != nil {
			logger.Error("scheduled report failed", zap.Error(err))
			return
		}
		logger.Info("scheduled run finished",
			zap.String("run_id", summary.RunID),
			zap.Int("inserted", summary.Inserted),
			zap.Int("updated", summary.Updated),
			zap.String("report_json", artifacts.JSONPath),
		)
	}

	logger.Info("schedule started", zap.Duration("interval", interval))
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("schedule stopped")
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// reportWindow covers one completed run. The run's change entries come from
// the same clock as its timestamps, so they all fall in
// [StartedAt, FinishedAt]; the upper bound is nudged past FinishedAt because
// the change-log window excludes its end.
func reportWindow(summary catalog.RunSummary) report.Window {
	return report.Window{
		From: summary.StartedAt,
		To:   summary.FinishedAt.Add(time.Nanosecond),
	}
}
