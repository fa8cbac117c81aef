package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a provider call when the caller sets none
const DefaultTimeout = 120 * time.Second

// maxErrorBody caps how much of a failed response body ends up in error text
const maxErrorBody = 512

// HTTPClient posts JSON to a provider endpoint and classifies failures into
// the provider error taxonomy.
type HTTPClient struct {
	Provider string
	BaseURL  string
	Timeout  time.Duration
	Token    string
	HTTP     *http.Client
}

// Call POSTs in as JSON to BaseURL+path and decodes the JSON answer into out.
// A base URL assigned by the role scheduler for this call takes precedence.
// A missing base URL is a ConfigError; network failures, timeouts, 429 and 5xx
// are TransientErrors; undecodable bodies are MalformedOutputErrors.
func (c *HTTPClient) Call(ctx context.Context, path string, in, out any) error {
	baseURL := c.BaseURL
	if assigned := EndpointFrom(ctx); assigned != "" {
		baseURL = assigned
	}
	if strings.TrimSpace(baseURL) == "" {
		return &ConfigError{Provider: c.Provider, Message: "base URL is not configured"}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", c.Provider, err)
	}

	url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ConfigError{Provider: c.Provider, Message: fmt.Sprintf("invalid endpoint %q: %v", url, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		msg := "request failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", timeout)
		}
		return &TransientError{Provider: c.Provider, Message: msg, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Provider: c.Provider, StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Provider: c.Provider, StatusCode: resp.StatusCode, Message: truncate(string(data), maxErrorBody)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s provider rejected request (status %d): %s", c.Provider, resp.StatusCode, truncate(string(data), maxErrorBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedOutputError{Provider: c.Provider, Message: "response is not valid JSON", Cause: err}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
