package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/crimson-sun/edrdash/internal/model"
)

const (
	maxFetchRetries = 3
	maxFetchBytes   = 64 << 20
)

// ErrFetchTooLarge is returned when a dataset download exceeds the size
// limit. The table is never parsed from a truncated body.
var ErrFetchTooLarge = errors.New("dataset: fetch: response too large")

// FetchError represents a non-2xx response from a dataset URL.
type FetchError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("dataset: fetch: HTTP %d: %s", e.StatusCode, e.Body)
}

// Fetcher downloads CSV datasets over HTTP.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	// backoff returns the wait before retry attempt n (n >= 1).
	backoff func(attempt int, last *FetchError) time.Duration
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxFetchBytes,
		backoff:  backoffDelay,
	}
}

// Fetch downloads url and parses it as a table. Retries on 429 (honouring
// Retry-After) and 5xx with exponential backoff: 1s, 2s, 4s.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.Table, error) {
	var lastErr *FetchError
	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(f.backoff(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dataset: fetch: %w", err)
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("dataset: fetch: %w", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("dataset: fetch: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if int64(len(body)) > f.maxBytes {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrFetchTooLarge, f.maxBytes)
			}
			t, err := Load(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			t.Source = model.SourceURL
			return t, nil
		}

		bodyStr := string(body)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}
		fe := &FetchError{StatusCode: resp.StatusCode, Body: bodyStr}
		if resp.StatusCode == http.StatusTooManyRequests {
			fe.retryAfter = resp.Header.Get("Retry-After")
			lastErr = fe
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fe
			continue
		}
		return nil, fe
	}
	return nil, lastErr
}

func backoffDelay(attempt int, last *FetchError) time.Duration {
	if last != nil && last.StatusCode == http.StatusTooManyRequests && last.retryAfter != "" {
		if secs, err := strconv.Atoi(last.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}
