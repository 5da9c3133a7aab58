// Package httpfetch is the network-fetch capability the trust, rules, and
// value-set stores consume: an HTTP GET that returns response status and
// body bytes. It is the only network collaborator the core talks to.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher performs an HTTP GET and returns the status code and body.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// Client is the production Fetcher, a bounded-timeout http.Client in the
// style of the source's format.httpClient/statuslist.httpClient.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a 15s timeout, matching the source's
// convention for every outbound fetch in this codebase.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("httpfetch: building request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("httpfetch: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("httpfetch: reading response from %s: %w", url, err)
	}

	return resp.StatusCode, body, nil
}
