package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/app"
	"github.com/catalogwatch/harvester/internal/config"
	"github.com/catalogwatch/harvester/internal/harvest"
	"github.com/catalogwatch/harvester/internal/report"
	"github.com/catalogwatch/harvester/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. This allows
// injecting a mock app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Store() store.Store
	Config() config.Config
	NewRunner() (*harvest.Runner, error)
	NewReporter() *report.Generator
}

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx, cfgFile)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A catalog harvester with change detection.",
		Long: `harvester walks a paginated product catalog, harvests every detail
page into a normalized record, and tracks how records change between runs.
Crawl results feed a change log that can be served over HTTP or rendered
into JSON and CSV reports.`,

		// This hook runs BEFORE the subcommand's RunE and is where the
		// application services are built and injected.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScheduleCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
