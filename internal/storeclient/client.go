// Package storeclient implements domain.StoreClient over HTTP+JSON against
// the external Store service that owns task history and the admin/browser
// surfaces. The task pipeline never talks to a database directly; it
// reports lifecycle transitions to Store and lets Store persist them.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// Client implements domain.StoreClient.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New builds a Client against baseURL with the given per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) backoffConfig(ctx context.Context) backoff.BackOffContext {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	expo.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(expo, ctx)
}

// CreateTask implements domain.StoreClient.
func (c *Client) CreateTask(ctx context.Context, req domain.AIProcessRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks", req, nil)
}

// MarkStarted implements domain.StoreClient.
func (c *Client) MarkStarted(ctx context.Context, id domain.TaskId) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+id.String()+"/started", nil, nil)
}

// MarkCompleted implements domain.StoreClient.
func (c *Client) MarkCompleted(ctx context.Context, resp domain.AIProcessResponse) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+resp.TaskId.String()+"/completed", resp, nil)
}

// MarkFailed implements domain.StoreClient.
func (c *Client) MarkFailed(ctx context.Context, id domain.TaskId, taskErr domain.TaskError) error {
	return c.doJSON(ctx, http.MethodPost, "/tasks/"+id.String()+"/failed", taskErr, nil)
}

// ListQueued implements domain.StoreClient.
func (c *Client) ListQueued(ctx context.Context) ([]domain.TaskId, error) {
	var raw []string
	if err := c.doJSON(ctx, http.MethodGet, "/tasks/queued", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.TaskId, 0, len(raw))
	for _, s := range raw {
		out = append(out, domain.TaskId(s))
	}
	return out, nil
}

// CleanupOld implements domain.StoreClient.
func (c *Client) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	var result struct {
		Removed int `json:"removed"`
	}
	path := fmt.Sprintf("/tasks/cleanup?olderThanSeconds=%d", int64(olderThan.Seconds()))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

// Ping satisfies httpserver.Pinger for the /readyz handler.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// doJSON performs one HTTP round trip with JSON request/response bodies,
// retrying transient failures (network errors and 5xx) with exponential
// backoff. 4xx responses are treated as permanent and not retried.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("storeclient: marshal request: %w", err))
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("storeclient: build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("storeclient: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("storeclient: %s %s: status %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("storeclient: %s %s: status %d", method, path, resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("storeclient: decode response: %w", err))
			}
		}
		return nil
	}

	return backoff.Retry(op, c.backoffConfig(ctx))
}
