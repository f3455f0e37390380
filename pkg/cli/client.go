package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tenantdesk/accesskit/pkg/audit"
	"github.com/tenantdesk/accesskit/pkg/httputil"
)

// APIError is a non-2xx response from accessd
type APIError struct {
	StatusCode int
	httputil.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Field, e.ErrorResponse.Error)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.ErrorResponse.Error)
}

// Client calls the accessd HTTP API
type Client struct {
	baseURL string
	actor   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. Requests carry the
// ACCESSKIT_ACTOR (or USER) environment value as the audit actor.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   envOr("ACCESSKIT_ACTOR", os.Getenv("USER")),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out. Responses
// outside 2xx become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(audit.ActorHeader, c.actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.ErrorResponse); err != nil {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
