package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Dispatcher hands one task attempt to a worker. A nil error means the worker
// accepted the attempt; its outcome arrives later as a completion signal.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.DispatchRequest) error
}

// HTTPDispatcher posts DispatchRequests to worker services.
type HTTPDispatcher struct {
	urls   map[models.WorkerKind]string
	client *http.Client
}

// NewHTTPDispatcher resolves the worker kind to URL table once. Every key
// must be a known worker kind.
func NewHTTPDispatcher(workers map[string]string, client *http.Client) (*HTTPDispatcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	urls := make(map[models.WorkerKind]string, len(workers))
	for kind, url := range workers {
		k := models.WorkerKind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown worker kind %q", kind)
		}
		urls[k] = strings.TrimRight(url, "/")
	}
	return &HTTPDispatcher{urls: urls, client: client}, nil
}

// Kinds reports which worker kinds have a URL.
func (d *HTTPDispatcher) Kinds() []models.WorkerKind {
	var kinds []models.WorkerKind
	for _, k := range models.WorkerKinds {
		if _, ok := d.urls[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req models.DispatchRequest) error {
	base, ok := d.urls[req.Kind]
	if !ok {
		return fmt.Errorf("no worker registered for kind %s", req.Kind)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tasks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker answered %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
