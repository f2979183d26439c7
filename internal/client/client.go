// Package client talks to a running sweepworld server over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/compression"
	"github.com/sweepworld/server/internal/minegen"
)

// maxResponseBytes bounds any response body read by the client.
const maxResponseBytes = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Token      string // sent as a bearer token when set
}

// Client is an HTTP client for the sweepworld API.
type Client struct {
	baseURL    string
	retryCount int
	token      string
	client     *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether a request that failed with err may succeed
// if repeated.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewClient creates a new API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retryCount: max(cfg.RetryCount, 0),
		token:      cfg.Token,
		client:     &http.Client{Timeout: timeout},
	}
}

// HealthCheck checks if the server is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	body, err := c.get(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}
	return nil
}

// GetWorld returns the seed and generator identity of the server's world.
func (c *Client) GetWorld(ctx context.Context) (*chunkservice.WorldInfo, error) {
	body, err := c.get(ctx, "/api/world")
	if err != nil {
		return nil, fmt.Errorf("failed to get world: %w", err)
	}
	var info chunkservice.WorldInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode world info: %w", err)
	}
	return &info, nil
}

// GetChunk fetches one chunk in the binary format and returns it with the
// seed recorded in its header.
func (c *Client) GetChunk(ctx context.Context, chunkX, chunkY int32) (minegen.Chunk, uint32, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/chunks/%d/%d?format=binary", chunkX, chunkY))
	if err != nil {
		return minegen.Chunk{}, 0, fmt.Errorf("failed to get chunk (%d,%d): %w", chunkX, chunkY, err)
	}
	seed, chunk, err := compression.DecompressChunk(body)
	if err != nil {
		return minegen.Chunk{}, 0, fmt.Errorf("failed to decode chunk (%d,%d): %w", chunkX, chunkY, err)
	}
	if chunk.X != chunkX || chunk.Y != chunkY {
		return minegen.Chunk{}, 0, fmt.Errorf("server returned chunk (%d,%d) for (%d,%d)", chunk.X, chunk.Y, chunkX, chunkY)
	}
	return chunk, seed, nil
}

// GetCell fetches the classification of one absolute cell.
func (c *Client) GetCell(ctx context.Context, x, y int64) (*chunkservice.CellInfo, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/cells/%d/%d", x, y))
	if err != nil {
		return nil, fmt.Errorf("failed to get cell (%d,%d): %w", x, y, err)
	}
	var info chunkservice.CellInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode cell: %w", err)
	}
	return &info, nil
}

// get performs a GET with retry and exponential backoff (100ms, 200ms,
// 400ms, ...). Client errors other than 429 are not retried.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close response body: %v", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
