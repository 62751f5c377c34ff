package harvest

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/clock"
	"github.com/catalogwatch/harvester/internal/frontier"
	"github.com/catalogwatch/harvester/internal/metrics"
)

// Runner ties the two crawl stages together: the sequential listing walk
// discovers detail URLs, then the pool harvests them concurrently.
type Runner struct {
	walker *frontier.Walker
	pool   *Pool
	clock  clock.Clock
	logger *zap.Logger
}

// NewRunner builds a Runner. A nil clk uses the system clock.
func NewRunner(walker *frontier.Walker, pool *Pool, clk clock.Clock, logger *zap.Logger) *Runner {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		walker: walker,
		pool:   pool,
		clock:  clk,
		logger: logger,
	}
}

// Run executes one full crawl from startURLs. A listing-stage failure aborts
// the run with a frontier.CrawlError; detail-stage failures are absorbed into
// the summary's skip tally.
func (r *Runner) Run(ctx context.Context, startURLs []string) (catalog.RunSummary, error) {
	summary := catalog.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Skipped:   make(map[string]int),
	}
	logger := r.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("crawl run starting", zap.Strings("start_urls", startURLs))

	walk, err := r.walker.Walk(ctx, startURLs)
	summary.PagesVisited = walk.PagesVisited
	summary.URLsDiscovered = len(walk.DetailURLs)
	if err != nil {
		summary.FinishedAt = r.clock.Now()
		metrics.RunsCompleted.WithLabelValues("failed").Inc()
		logger.Error("listing traversal failed", zap.Error(err))
		return summary, err
	}

	outcome, err := r.pool.Process(ctx, walk.DetailURLs, summary.RunID)
	summary.Inserted = outcome.Inserted
	summary.Updated = outcome.Updated
	summary.Unchanged = outcome.Unchanged
	for reason, n := range outcome.Skipped {
		summary.Skipped[reason] += n
	}
	summary.FinishedAt = r.clock.Now()
	if err != nil {
		metrics.RunsCompleted.WithLabelValues("canceled").Inc()
		logger.Warn("crawl run canceled", zap.Error(err))
		return summary, err
	}

	metrics.RunsCompleted.WithLabelValues("ok").Inc()
	logger.Info("crawl run finished",
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("urls_discovered", summary.URLsDiscovered),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.SkippedTotal()),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}
