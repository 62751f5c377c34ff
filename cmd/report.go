package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/report"
)

// newReportCmd creates the 'report' subcommand, which renders the change log
// for a lookback window into JSON and CSV artifacts.
func newReportCmd() *cobra.Command {
	var windowHours int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Writes JSON and CSV change reports",
		Long: `Reads the change log for the lookback window and writes one JSON and
one CSV artifact into the configured output directory. An empty window still
produces valid, empty artifacts.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			hours := windowHours
			if hours <= 0 {
				hours = appInstance.Config().Report.WindowHours
			}
			now := time.Now().UTC()
			window := report.Window{
				From: now.Add(-time.Duration(hours) * time.Hour),
				To:   now,
			}

			artifacts, err := appInstance.NewReporter().Generate(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}

			appInstance.Logger().Info("report command finished",
				zap.String("json", artifacts.JSONPath),
				zap.String("csv", artifacts.CSVPath),
				zap.Int("entries", artifacts.Entries),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&windowHours, "window-hours", 0, "lookback window in hours (default from config)")
	return cmd
}
