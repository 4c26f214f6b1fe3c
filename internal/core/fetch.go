package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds a single document retrieval.
const DefaultFetchTimeout = 1500 * time.Millisecond

// DefaultMaxDocumentSize is the largest accepted response body (10MB).
const DefaultMaxDocumentSize int64 = 10 * 1024 * 1024

// UserAgent is sent with every fetch.
var UserAgent = "xmlmirror/1.0"

// FetchError describes a failed retrieval. It matches ErrFetchFailed.
type FetchError struct {
	URL        string
	StatusCode int // Non-zero for non-2xx responses
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes every FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Fetcher retrieves raw documents over HTTP with a bounded timeout.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// NewFetcher creates a Fetcher. Non-positive arguments fall back to defaults.
func NewFetcher(timeout time.Duration, maxSize int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDocumentSize
	}

	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		maxSize: maxSize,
	}
}

// Fetch performs a single GET and returns the body of a 2xx response.
// Every failure, including timeouts, is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	// Read one byte past the limit to detect oversize bodies
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxSize {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("document exceeds %d bytes", f.maxSize)}
	}

	return body, nil
}
