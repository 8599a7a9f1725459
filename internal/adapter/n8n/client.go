// Package n8n implements the worker notifier port against an n8n-style
// webhook workflow.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/donahuenet/imagen/internal/port/worker"
	"github.com/donahuenet/imagen/internal/resilience"
)

const userAgent = "imagen/1.0"

// Client posts generation jobs to the workflow webhook. Calls go through
// a circuit breaker so a dead workflow fails fast instead of tying up a
// goroutine per submission until the timeout fires.
type Client struct {
	webhookURL string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a webhook client. timeout bounds the whole
// notification including connect and response read. breaker may be nil,
// which disables fail-fast behavior.
func NewClient(webhookURL string, timeout time.Duration, breaker *resilience.Breaker) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Notify hands the job to the workflow. A nil error means the workflow
// acknowledged the request; the actual generation result arrives later on
// the callback endpoint.
func (c *Client) Notify(ctx context.Context, job worker.Job) error {
	if c.breaker == nil {
		return c.post(ctx, job)
	}
	return c.breaker.Execute(func() error {
		return c.post(ctx, job)
	})
}

func (c *Client) post(ctx context.Context, job worker.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
