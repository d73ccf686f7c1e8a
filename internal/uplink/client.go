// Package uplink delivers completed action batches to the remote photo
// service over HTTP.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"photoflow/internal/domain"
)

// Client POSTs action batches as JSON to a single endpoint. Any non-2xx
// response or transport error means delivery is not confirmed.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type batchRequest struct {
	Actions []domain.Action `json:"actions"`
}

func (c *Client) Deliver(ctx context.Context, actions []domain.Action) error {
	body, err := json.Marshal(batchRequest{Actions: actions})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream rejected batch: HTTP %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
