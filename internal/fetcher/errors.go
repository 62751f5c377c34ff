package fetcher

import "fmt"

// FetchError reports a fetch that failed for good: either a non-retryable
// failure or retry exhaustion. It names the URL and the last underlying cause.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Transient reports whether the status is server-class and therefore worth
// retrying. Client-class statuses are permanent for a given URL.
func (e *StatusError) Transient() bool {
	return e.Code >= 500
}
