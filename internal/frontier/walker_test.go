package frontier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
)

// fakeFetcher serves canned pages keyed by URL, with optional redirects.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	redirects map[string]string
	errs      map[string]error
	fetched   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (catalog.Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()

	if err, ok := f.errs[rawURL]; ok {
		return catalog.Page{}, err
	}
	final := rawURL
	if target, ok := f.redirects[rawURL]; ok {
		final = target
	}
	body, ok := f.pages[final]
	if !ok {
		return catalog.Page{}, fmt.Errorf("no page for %s", final)
	}
	return catalog.Page{URL: rawURL, FinalURL: final, Body: []byte(body)}, nil
}

func listingPage(items []string, next string) string {
	html := "<html><body>"
	for i, href := range items {
		html += fmt.Sprintf(
			`<article class="product_pod"><h3><a href=%q title="Book %d">Book %d</a></h3></article>`,
			href, i, i,
		)
	}
	if next != "" {
		html += fmt.Sprintf(`<ul class="pager"><li class="next"><a href=%q>next</a></li></ul>`, next)
	}
	return html + "</body></html>"
}

func TestWalkFollowsPagination(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"http://site/page-1.html": listingPage([]string{"a_1/index.html", "b_2/index.html"}, "page-2.html"),
		"http://site/page-2.html": listingPage([]string{"c_3/index.html"}, ""),
	}}

	w := New(f, 0, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{"http://site/page-1.html"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesVisited)
	assert.Equal(t, []string{
		"http://site/a_1/index.html",
		"http://site/b_2/index.html",
		"http://site/c_3/index.html",
	}, result.DetailURLs)
}

func TestWalkRespectsPageCap(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"http://site/page-1.html": listingPage([]string{"a_1/index.html"}, "page-2.html"),
		"http://site/page-2.html": listingPage([]string{"b_2/index.html"}, "page-3.html"),
		"http://site/page-3.html": listingPage([]string{"c_3/index.html"}, ""),
	}}

	w := New(f, 2, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{"http://site/page-1.html"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesVisited, "exactly maxPages listing pages are processed")
	assert.Equal(t, []string{
		"http://site/a_1/index.html",
		"http://site/b_2/index.html",
	}, result.DetailURLs)
	assert.Len(t, f.fetched, 2)
}

func TestWalkDedupesAcrossRedirects(t *testing.T) {
	t.Parallel()

	page := listingPage([]string{"a_1/index.html"}, "")
	f := &fakeFetcher{
		pages: map[string]string{
			"http://site/index.html": page,
		},
		redirects: map[string]string{
			"http://site/":     "http://site/index.html",
			"http://site/home": "http://site/index.html",
		},
	}

	w := New(f, 0, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{"http://site/", "http://site/home"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PagesVisited, "redirect targets are visited once")
	assert.Equal(t, []string{"http://site/a_1/index.html"}, result.DetailURLs)
}

func TestWalkDedupesDetailURLsAcrossPages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"http://site/page-1.html": listingPage([]string{"a_1/index.html"}, "page-2.html"),
		"http://site/page-2.html": listingPage([]string{"a_1/index.html", "b_2/index.html"}, ""),
	}}

	w := New(f, 0, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{"http://site/page-1.html"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://site/a_1/index.html",
		"http://site/b_2/index.html",
	}, result.DetailURLs, "repeated references contribute once")
}

func TestWalkListingFailureAbortsRun(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		pages: map[string]string{
			"http://site/page-1.html": listingPage([]string{"a_1/index.html"}, "page-2.html"),
		},
		errs: map[string]error{
			"http://site/page-2.html": fmt.Errorf("connection refused"),
		},
	}

	w := New(f, 0, zap.NewNop())
	_, err := w.Walk(context.Background(), []string{"http://site/page-1.html"})

	var crawlErr *CrawlError
	require.ErrorAs(t, err, &crawlErr)
	assert.Equal(t, "http://site/page-2.html", crawlErr.URL)
}

func TestWalkEmptyListingPageIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"http://site/empty.html": "<html><body></body></html>",
	}}

	w := New(f, 0, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{"http://site/empty.html"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PagesVisited)
	assert.Empty(t, result.DetailURLs)
}

func TestWalkAgainstHTTPServer(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/page-1.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listingPage([]string{"books/x_10/index.html"}, "page-2.html")))
	})
	mux.HandleFunc("/page-2.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(listingPage([]string{"books/y_20/index.html"}, "")))
	})

	f := &serverFetcher{}
	w := New(f, 0, zap.NewNop())
	result, err := w.Walk(context.Background(), []string{srv.URL + "/page-1.html"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PagesVisited)
	assert.Equal(t, []string{
		srv.URL + "/books/x_10/index.html",
		srv.URL + "/books/y_20/index.html",
	}, result.DetailURLs)
}

// serverFetcher is a minimal real-HTTP fetcher for the httptest case.
type serverFetcher struct{}

func (serverFetcher) Fetch(ctx context.Context, rawURL string) (catalog.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return catalog.Page{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return catalog.Page{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return catalog.Page{}, err
	}
	return catalog.Page{URL: rawURL, FinalURL: resp.Request.URL.String(), Body: body}, nil
}
