package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/leaderboard"
	"github.com/okian/ghostcoop/internal/domain/model"
)

// HTTPClient reads and drives the service through its public API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// do sends a request without a body and decodes a JSON response into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", http.StatusOK, nil)
}

// Spawn tops up a location and returns the new ghost ids.
func (c *HTTPClient) Spawn(ctx context.Context, location string) ([]string, error) {
	var resp struct {
		Spawned []string `json:"spawned"`
	}
	path := "/locations/" + url.PathEscape(location) + "/spawn"
	if err := c.do(ctx, http.MethodPost, path, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return resp.Spawned, nil
}

// Ghost reads ghosts/{id}.
func (c *HTTPClient) Ghost(ctx context.Context, id string) (model.Ghost, error) {
	var g model.Ghost
	err := c.do(ctx, http.MethodGet, "/db/"+model.GhostPath(id), http.StatusOK, &g)
	return g, err
}

// UserStats reads users/{id}. A missing record decodes as zero stats.
func (c *HTTPClient) UserStats(ctx context.Context, id string) (model.UserStats, error) {
	var raw *model.UserStats
	if err := c.do(ctx, http.MethodGet, "/db/"+model.UserPath(id), http.StatusOK, &raw); err != nil {
		return model.UserStats{}, err
	}
	if raw == nil {
		return model.UserStats{}, nil
	}
	return *raw, nil
}

// Rank reads the player's leaderboard entry.
func (c *HTTPClient) Rank(ctx context.Context, id string) (leaderboard.Entry, error) {
	var e leaderboard.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard/"+url.PathEscape(id), http.StatusOK, &e)
	return e, err
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
