package rollcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// errorBody is the API error envelope.
type errorBody struct {
	Code string `json:"code"`
}

// client wraps http.Client with the player header.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

// do sends a request and decodes a 200 body into out. It returns the status
// and the API error code for non-200 responses.
func (c *client) do(ctx context.Context, method, path, player, key string, out any) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return 0, "", fmt.Errorf("building request: %w", err)
	}
	if player != "" {
		req.Header.Set("X-Player-ID", player)
	}
	if key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorBody
		_ = json.Unmarshal(body, &e)
		return resp.StatusCode, e.Code, nil
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return resp.StatusCode, "", nil
}
