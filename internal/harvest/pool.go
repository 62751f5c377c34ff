// Package harvest runs the concurrent detail-page stage of a crawl: fetching
// discovered URLs with a bounded worker pool, parsing each into a record, and
// feeding records through change detection.
package harvest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/metrics"
	"github.com/catalogwatch/harvester/internal/parser"
)

// DefaultConcurrency bounds in-flight detail fetches when no explicit limit
// is configured.
const DefaultConcurrency = 20

// Upserter is the change-detection sink for harvested records.
type Upserter interface {
	Upsert(ctx context.Context, rec catalog.Record, runID string) (catalog.ChangeKind, error)
}

// Outcome tallies what happened to each processed URL. A failed URL never
// aborts the batch; it lands in Skipped under its failure stage instead.
type Outcome struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   map[string]int
}

// Pool fans detail URLs out to a bounded set of workers.
type Pool struct {
	fetcher     catalog.Fetcher
	upserter    Upserter
	concurrency int
	logger      *zap.Logger
}

// NewPool builds a Pool. concurrency <= 0 falls back to DefaultConcurrency.
func NewPool(fetcher catalog.Fetcher, upserter Upserter, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		fetcher:     fetcher,
		upserter:    upserter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Process harvests every URL, isolating per-URL failures. It returns an error
// only when the context is canceled before all URLs are handled; URLs not
// attempted by then are tallied as canceled.
func (p *Pool) Process(ctx context.Context, urls []string, runID string) (Outcome, error) {
	outcome := Outcome{Skipped: make(map[string]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, rawURL := range urls {
		if err := gctx.Err(); err != nil {
			mu.Lock()
			outcome.Skipped[catalog.SkipCanceled]++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			kind, skip := p.harvestOne(gctx, rawURL, runID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case skip != "":
				outcome.Skipped[skip]++
				metrics.RecordsSkipped.WithLabelValues(skip).Inc()
			case kind == catalog.ChangeInsert:
				outcome.Inserted++
			case kind == catalog.ChangeUpdate:
				outcome.Updated++
			default:
				outcome.Unchanged++
			}
			return nil
		})
	}

	// Workers never return errors, so this only surfaces a canceled context.
	if err := g.Wait(); err != nil {
		return outcome, err
	}
	return outcome, ctx.Err()
}

// harvestOne runs the fetch-parse-upsert sequence for a single URL. It
// returns the change kind on success, or the skip reason naming the stage
// that failed.
func (p *Pool) harvestOne(ctx context.Context, rawURL, runID string) (catalog.ChangeKind, string) {
	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", catalog.SkipCanceled
		}
		p.logger.Warn("detail fetch failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return "", catalog.SkipFetch
	}
	metrics.PagesFetched.WithLabelValues("detail").Inc()

	detail, err := parser.ParseDetailPage(page.Body, page.FinalURL)
	if err != nil {
		p.logger.Warn("detail parse failed",
			zap.String("url", page.FinalURL),
			zap.Error(err),
		)
		return "", catalog.SkipParse
	}
	if detail.ID == "" {
		p.logger.Warn("detail page has no identifier segment",
			zap.String("url", page.FinalURL),
		)
		return "", catalog.SkipIdentifier
	}

	rec := recordFromDetail(detail, page)
	kind, err := p.upserter.Upsert(ctx, rec, runID)
	if err != nil {
		p.logger.Error("record upsert failed",
			zap.String("book_id", rec.ID),
			zap.Error(err),
		)
		return "", catalog.SkipStore
	}
	return kind, ""
}

func recordFromDetail(detail parser.DetailPage, page catalog.Page) catalog.Record {
	return catalog.Record{
		ID:              detail.ID,
		Name:            detail.Title,
		PriceInclTax:    detail.PriceInclTax,
		PriceExclTax:    detail.PriceExclTax,
		Tax:             detail.Tax,
		Availability:    detail.Availability,
		Description:     detail.Description,
		UPC:             detail.UPC,
		NumberOfReviews: detail.NumberOfReviews,
		Category:        detail.Category,
		Rating:          detail.Rating,
		ImageURL:        detail.ImageURL,
		PageURL:         page.FinalURL,
		RawHTML:         string(page.Body),
		Metadata: map[string]string{
			"site":        hostOf(page.FinalURL),
			"parsed_from": "detail_page",
		},
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	return u.Host
}
