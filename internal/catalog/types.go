// Package catalog defines core types shared across the harvest pipeline.
package catalog

import (
	"context"
	"time"
)

// Record is a harvested catalog item. The ID is derived from the canonical
// detail-page URL and is stable across harvests of the same product.
// Monetary fields hold normalized decimal strings with the currency symbol
// stripped.
type Record struct {
	ID              string            `json:"book_id"`
	Name            string            `json:"name"`
	PriceInclTax    string            `json:"price_incl_tax"`
	PriceExclTax    string            `json:"price_excl_tax"`
	Tax             string            `json:"tax"`
	Availability    string            `json:"availability"`
	Description     string            `json:"product_description"`
	UPC             string            `json:"upc"`
	NumberOfReviews *int              `json:"number_of_reviews,omitempty"`
	Category        string            `json:"category,omitempty"`
	Rating          int               `json:"rating,omitempty"`
	ImageURL        string            `json:"image_url"`
	PageURL         string            `json:"product_page_url"`
	RawHTML         string            `json:"-"`
	Metadata        map[string]string `json:"crawl_metadata,omitempty"`
}

// ChangeKind classifies a change-log entry.
type ChangeKind string

// Change kinds persisted in the change log. Deletes are reserved: the
// harvester never observes removals, so only inserts and updates are produced.
const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEntry is one immutable row of the append-only change log.
// Old is empty for inserts. Snapshots hold the comparable fields only.
type ChangeEntry struct {
	ID        int64             `json:"-"`
	RecordID  string            `json:"book_id"`
	Kind      ChangeKind        `json:"change_type"`
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id,omitempty"`
	Old       map[string]string `json:"old_value"`
	New       map[string]string `json:"new_value"`
}

// Page is the raw result of fetching a URL. FinalURL is the resolved URL
// after redirects and is the key used for frontier deduplication.
type Page struct {
	URL      string
	FinalURL string
	Body     []byte
}

// Fetcher retrieves a page, applying timeout and retry policy per attempt.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Skip reasons tallied in a RunSummary.
const (
	SkipFetch      = "fetch"
	SkipParse      = "parse"
	SkipIdentifier = "identifier"
	SkipStore      = "store"
	SkipCanceled   = "canceled"
)

// RunSummary is the outcome report for one full crawl run.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	PagesVisited   int            `json:"pages_visited"`
	URLsDiscovered int            `json:"urls_discovered"`
	Inserted       int            `json:"inserted"`
	Updated        int            `json:"updated"`
	Unchanged      int            `json:"unchanged"`
	Skipped        map[string]int `json:"skipped"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// SkippedTotal sums the skip tally across all reasons.
func (s RunSummary) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}
