package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "Mozilla/5.0 (compatible; MachineryNews/1.0)"

// Client performs plain GET requests for feeds and article pages.
type Client struct {
	http *http.Client
}

// NewClient wires an HTTP client; nil falls back to a 20s timeout client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{http: httpClient}
}

// Get fetches url and returns its body; the caller closes it.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	body, _, err := c.Open(ctx, url)
	return body, err
}

// Open is Get that also reports the address the response came from after redirects.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("%s returned %s", url, resp.Status)
	}

	final := url
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return resp.Body, final, nil
}
