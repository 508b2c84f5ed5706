// Package fetcher downloads raw feed documents over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewSafeHTTPClient builds an SSRF-hardened HTTP client. Feed URLs are
// third-party input supplied through the admin workflow, so requests to
// private, loopback, link-local and metadata addresses are blocked at
// the dialer level (covers DNS rebinding as well).
func NewSafeHTTPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// Client fetches feed bodies with a bounded response size.
type Client struct {
	httpClient  *http.Client
	maxBodySize int64
	userAgent   string
	logger      *slog.Logger
}

// New creates a feed fetcher. The HTTP client is injected so tests can
// use a plain client against httptest servers.
func New(httpClient *http.Client, maxBodySize int64, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		maxBodySize: maxBodySize,
		userAgent:   userAgent,
		logger:      logger,
	}
}

// FetchFeed downloads the feed at feedURL and returns its body, capped
// at maxBodySize. Any non-2xx status is an error.
func (c *Client) FetchFeed(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("fetched feed",
		"url", feedURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	return body, nil
}
