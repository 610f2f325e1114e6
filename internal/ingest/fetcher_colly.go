package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher using Colly. It is used for the notice
// description endpoint, where per-domain rate limiting matters more than
// throughput.
type CollyFetcher struct {
	UserAgent      string
	MaxRetries     int
	RetryBackoff   time.Duration
	RequestTimeout time.Duration
	DomainDelay    time.Duration
	MaxBodySize    int
	Headers        map[string]string

	once      sync.Once
	collector *colly.Collector
}

// NewCollyFetcher creates a CollyFetcher with sensible defaults.
func NewCollyFetcher(timeout time.Duration) *CollyFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CollyFetcher{
		UserAgent:      defaultUserAgent,
		MaxRetries:     3,
		RetryBackoff:   time.Second,
		RequestTimeout: timeout,
		DomainDelay:    250 * time.Millisecond,
		MaxBodySize:    5 * 1024 * 1024,
		Headers:        map[string]string{"Accept": "application/json, text/html;q=0.9"},
	}
}

// buildCollector creates a configured Colly collector. The limit rule is
// shared by every clone, so descriptions fetched for one batch stay
// rate-limited across listings.
func (f *CollyFetcher) buildCollector() *colly.Collector {
	f.once.Do(func() {
		c := colly.NewCollector(
			colly.UserAgent(f.UserAgent),
			colly.MaxBodySize(f.MaxBodySize),
			colly.AllowURLRevisit(),
			colly.IgnoreRobotsTxt(),
		)
		_ = c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       f.DomainDelay,
		})
		c.SetRequestTimeout(f.RequestTimeout)
		f.collector = c
	})
	return f.collector.Clone()
}

// Fetch implements the Fetcher interface, returning a FetchedDocument.
// Retryable status codes are retried up to MaxRetries times.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.buildCollector()

	var result *FetchedDocument
	var lastErr error
	retries := 0

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range f.Headers {
			r.Headers.Set(k, v)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r.StatusCode != 0 {
			lastErr = &StatusError{StatusCode: r.StatusCode, Body: truncateBody(r.Body)}
		} else {
			lastErr = err
		}
		retryable := shouldRetry(nil, r.StatusCode)
		if r.StatusCode == 0 {
			retryable = shouldRetry(err, 0)
		}
		if retries >= f.MaxRetries || !retryable {
			return
		}
		retries++
		slog.Debug("retrying fetch", "url", r.Request.URL.String(), "attempt", retries, "max", f.MaxRetries, "error", lastErr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(retries) * f.RetryBackoff):
		}
		if retryErr := r.Request.Retry(); retryErr != nil {
			lastErr = retryErr
		}
	})

	visitErr := c.Visit(targetURL)

	if result != nil {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lastErr != nil {
		if retries > 0 {
			return nil, fmt.Errorf("fetch failed after %d retries: %w", retries, lastErr)
		}
		return nil, lastErr
	}
	if visitErr != nil {
		return nil, fmt.Errorf("visit failed: %w", visitErr)
	}
	return nil, fmt.Errorf("no response received for %s", targetURL)
}

func truncateBody(body []byte) string {
	return TruncateText(normalizeSpace(string(body)), 200)
}
