package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSubscriber forwards events to a remote endpoint as JSON.
type HTTPSubscriber struct {
	url    string
	client *http.Client
}

// NewHTTPSubscriber creates a subscriber posting to url. A nil client gets a
// 10 second timeout.
func NewHTTPSubscriber(url string, client *http.Client) *HTTPSubscriber {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSubscriber{url: url, client: client}
}

// Handle posts the event. Any non-2xx answer is a failed delivery.
func (s *HTTPSubscriber) Handle(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Event-ID", ev.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("subscriber %s answered %d", s.url, resp.StatusCode)
	}
	return nil
}
