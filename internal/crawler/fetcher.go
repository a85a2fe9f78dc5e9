// Package crawler fetches tender listings and notice documents.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"etenders/internal/apperr"
	"etenders/internal/config"
	"etenders/pkg/utils"
)

// Fetch errors.
var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrDocumentTooLarge     = errors.New("document exceeds size limit")
)

// FetchResult describes a completed fetch.
type FetchResult struct {
	Body       []byte
	StatusCode int
	Attempts   int
	Duration   time.Duration
}

// Fetcher downloads URLs with config-driven retry logic. Transport errors and
// transient statuses are retried; not-found and other client errors are not.
type Fetcher struct {
	client      *http.Client
	retryPolicy *config.RetryPolicy
	headers     *utils.HTTPHelper
	accept      string
	maxBytes    int64
}

// NewFetcher creates a fetcher with the default retry policy.
func NewFetcher() *Fetcher {
	return NewFetcherWithConfig(&config.RetryPolicy{
		MaxAttempts:       3,
		InitialDelayMs:    500,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2.0,
		TimeoutSec:        30,
	}, 20*1024*1024)
}

// NewFetcherWithConfig creates a fetcher with a custom retry policy and body cap.
func NewFetcherWithConfig(retryPolicy *config.RetryPolicy, maxBytes int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: retryPolicy.GetTimeout(),
		},
		retryPolicy: retryPolicy,
		headers:     utils.NewHTTPHelper(),
		maxBytes:    maxBytes,
	}
}

// WithAccept overrides the Accept header sent with every request.
func (f *Fetcher) WithAccept(accept string) *Fetcher {
	f.accept = accept

	return f
}

// Fetch returns the body of url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := f.FetchWithMetrics(ctx, url)

	return res.Body, err
}

// FetchWithMetrics returns the body along with status, attempt count and total duration.
// Failures are classified as document_unavailable; the retryable flag tells
// transient failures from permanent ones.
func (f *Fetcher) FetchWithMetrics(ctx context.Context, url string) (FetchResult, error) {
	var (
		res     FetchResult
		lastErr error
	)

	for attempt := 1; attempt <= f.retryPolicy.MaxAttempts; attempt++ {
		res.Attempts = attempt
		start := time.Now()

		body, status, err := f.once(ctx, url)
		res.Duration += time.Since(start)
		res.StatusCode = status

		if err == nil {
			res.Body = body

			return res, nil
		}

		lastErr = err
		if !apperr.RetryableOf(err) || ctx.Err() != nil {
			return res, err
		}

		if attempt < f.retryPolicy.MaxAttempts {
			if err := sleep(ctx, f.retryPolicy.GetRetryDelay(attempt+1)); err != nil {
				return res, unavailable(err, false)
			}
		}
	}

	return res, fmt.Errorf("giving up after %d attempts: %w", f.retryPolicy.MaxAttempts, lastErr)
}

func (f *Fetcher) once(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, unavailable(fmt.Errorf("failed to create request: %w", err), false)
	}

	custom := map[string]string{}
	if f.accept != "" {
		custom["Accept"] = f.accept
	}

	req.Header = f.headers.BuildHeaders(custom)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, unavailable(fmt.Errorf("request failed: %w", err), true)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return nil, resp.StatusCode, unavailable(fmt.Errorf("%w: %d", ErrDocumentNotFound, resp.StatusCode), false)
		case isRetryableStatus(resp.StatusCode):
			return nil, resp.StatusCode, unavailable(fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode), true)
		default:
			return nil, resp.StatusCode, unavailable(fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode), false)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, resp.StatusCode, unavailable(fmt.Errorf("failed to read response body: %w", err), true)
	}

	if int64(len(body)) > f.maxBytes {
		return nil, resp.StatusCode, unavailable(fmt.Errorf("%w: more than %d bytes", ErrDocumentTooLarge, f.maxBytes), false)
	}

	return body, resp.StatusCode, nil
}

func unavailable(err error, retryable bool) error {
	return apperr.Wrap(err, apperr.CategoryDocumentUnavailable, retryable)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, // 408
		http.StatusTooManyRequests: // 429
		return true
	}

	return statusCode >= 500
}
