// Package webhook forwards action payloads to an HTTP endpoint. It is the
// generic processor the photoflow binary registers for configured action
// types; the receiving service implements the action's business logic.
package webhook

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

type Webhook struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type request struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Attempt       int             `json:"attempt"`
}

// Process posts the action to the endpoint. Retries are driven by the queue,
// so the request carries the attempt number for receiver-side deduplication.
func (w *Webhook) Process(ctx context.Context, action domain.Action) error {
	body, err := json.Marshal(request{
		ID:            action.ID,
		Type:          string(action.Type),
		Payload:       action.Payload,
		CorrelationID: action.Context.CorrelationID,
		Attempt:       action.Metadata.RetryCount + 1,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
