// Package providers holds the built-in capability providers and the
// catalog that turns template names into live agents.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	userAgent      = "SwarmBot/1.0"
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 256
	defaultRetries = 2
)

// DefaultHTTPClient is used by providers constructed without a client.
var DefaultHTTPClient = NewRetryingClient(defaultTimeout, defaultRetries)

// NewRetryingClient returns a client that retries connection errors, 429s
// and 5xx responses up to retries times with exponential backoff. timeout
// bounds each attempt.
func NewRetryingClient(timeout time.Duration, retries int) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = timeout
	rc.RetryMax = retries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	// Hand the last response back so getJSON reports the upstream status.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}

// getJSON fetches url and decodes the JSON body into v.
func getJSON(ctx context.Context, client *http.Client, api, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", api, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s API returned %d: %s", api, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", api, err)
	}
	return nil
}

func stringInput(input map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if s, ok := input[k].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func clientOr(c *http.Client) *http.Client {
	if c == nil {
		return DefaultHTTPClient
	}
	return c
}
