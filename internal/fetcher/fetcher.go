// Package fetcher implements the HTTP content fetcher on top of Colly,
// wrapping each fetch in an explicit retry policy.
package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/metrics"
)

// Config controls the fetch transport.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Retry     RetryPolicy
	// Transport overrides the HTTP transport; tests inject a fake here.
	Transport http.RoundTripper
}

// Client implements catalog.Fetcher. Headers are configured once on the base
// collector so they stay stable across retries of the same logical request.
type Client struct {
	base      *colly.Collector
	transport http.RoundTripper
	timeout   time.Duration
	policy    RetryPolicy
	logger    *zap.Logger
}

// New constructs a configured Colly-based fetcher.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.Timeout)

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			ForceAttemptHTTP2:     true,
		}
	}
	base.WithTransport(transport)

	return &Client{
		base:      base,
		transport: transport,
		timeout:   cfg.Timeout,
		policy:    cfg.Retry,
		logger:    logger,
	}, nil
}

// Fetch retrieves rawURL, retrying transient failures per the policy. It
// returns the body together with the resolved final URL after redirects.
// Malformed URLs fail immediately without retry.
func (c *Client) Fetch(ctx context.Context, rawURL string) (catalog.Page, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return catalog.Page{}, &FetchError{URL: rawURL, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.FetchRetries.Inc()
			select {
			case <-ctx.Done():
				return catalog.Page{}, &FetchError{URL: rawURL, Err: ctx.Err()}
			case <-time.After(c.policy.Backoff(attempt - 1)):
			}
		}

		page, err := c.fetchOnce(rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !c.policy.ShouldRetry(err, attempt) {
			break
		}
		c.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	metrics.FetchFailures.Inc()
	return catalog.Page{}, &FetchError{URL: rawURL, Err: lastErr}
}

// fetchOnce performs a single blocking fetch on a clone of the base
// collector. Cloning gives each attempt a fresh visit history while keeping
// the configured transport, timeout, and headers.
func (c *Client) fetchOnce(rawURL string) (catalog.Page, error) {
	collector := c.base.Clone()
	// Clone resets the backend, so the transport and timeout must be
	// reapplied per attempt.
	collector.WithTransport(c.transport)
	collector.SetRequestTimeout(c.timeout)

	var page catalog.Page
	var fetchErr error
	var gotResponse bool

	collector.OnResponse(func(r *colly.Response) {
		page = catalog.Page{
			URL:      rawURL,
			FinalURL: r.Request.URL.String(),
			Body:     append([]byte(nil), r.Body...),
		}
		gotResponse = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &StatusError{Code: r.StatusCode}
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(rawURL); err != nil {
		return catalog.Page{}, err
	}
	collector.Wait()

	switch {
	case fetchErr != nil:
		return catalog.Page{}, fetchErr
	case !gotResponse:
		return catalog.Page{}, errors.New("fetch produced no response")
	default:
		return page, nil
	}
}
