// Package frontier owns the sequential traversal of catalog listing pages.
package frontier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/metrics"
	"github.com/catalogwatch/harvester/internal/parser"
)

// CrawlError is fatal for the whole run: a listing page could not be
// fetched, so the discovered link set would be incomplete.
type CrawlError struct {
	URL string
	Err error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("listing traversal failed at %s: %v", e.URL, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Walker traverses listing pages one at a time, following pagination until
// the queue drains or the page cap is reached. Traversal is strictly
// sequential: each page's content determines the next page to fetch, and one
// in-flight request bounds the load on the target site.
type Walker struct {
	fetcher  catalog.Fetcher
	maxPages int
	logger   *zap.Logger
}

// Result accumulates what one traversal discovered.
type Result struct {
	// DetailURLs holds the deduplicated detail-page URLs in discovery order.
	DetailURLs   []string
	PagesVisited int
}

// New constructs a Walker. maxPages <= 0 means no cap.
func New(fetcher catalog.Fetcher, maxPages int, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		fetcher:  fetcher,
		maxPages: maxPages,
		logger:   logger,
	}
}

// Walk traverses listing pages starting from startURLs. Visited pages are
// keyed by their resolved final URL so two start URLs that redirect to the
// same page contribute their items exactly once.
func (w *Walker) Walk(ctx context.Context, startURLs []string) (Result, error) {
	queue := append([]string(nil), startURLs...)
	visited := make(map[string]bool)
	discovered := make(map[string]bool)
	var result Result

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return result, &CrawlError{URL: "", Err: err}
		}

		pageURL := queue[0]
		queue = queue[1:]
		if visited[pageURL] {
			continue
		}

		page, err := w.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return result, &CrawlError{URL: pageURL, Err: err}
		}
		if visited[page.FinalURL] {
			// A redirect landed on a page already processed.
			continue
		}
		visited[pageURL] = true
		visited[page.FinalURL] = true
		result.PagesVisited++
		metrics.PagesFetched.WithLabelValues("listing").Inc()

		listing, err := parser.ParseListingPage(page.Body, page.FinalURL)
		if err != nil {
			return result, &CrawlError{URL: pageURL, Err: err}
		}
		if len(listing.Items) == 0 {
			w.logger.Warn("listing page produced no items", zap.String("url", page.FinalURL))
		}
		for _, item := range listing.Items {
			if !discovered[item.URL] {
				discovered[item.URL] = true
				result.DetailURLs = append(result.DetailURLs, item.URL)
			}
		}

		// The cap is checked before enqueuing, so the popped page always
		// finishes before traversal stops.
		capReached := w.maxPages > 0 && result.PagesVisited >= w.maxPages
		if listing.NextPage != "" && !visited[listing.NextPage] && !capReached {
			queue = append(queue, listing.NextPage)
		}
	}

	w.logger.Info("listing traversal complete",
		zap.Int("pages_visited", result.PagesVisited),
		zap.Int("detail_urls", len(result.DetailURLs)),
	)
	return result, nil
}
