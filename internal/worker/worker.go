// Package worker runs one kind of task on behalf of the orchestrator.
// A worker accepts a DispatchRequest, acknowledges it immediately and
// reports the outcome to the request's callback URL when processing ends.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/echo/v4"

	"github.com/darrylbowler72/agenticframework-sub001/internal/health"
	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Handler performs one task attempt and returns its result.
type Handler interface {
	Handle(ctx context.Context, req models.DispatchRequest) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req models.DispatchRequest) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Tools is the tool gateway as seen by handlers. *mcp.Client satisfies it.
type Tools interface {
	Call(ctx context.Context, method string, params any, correlationID string) (map[string]any, error)
}

// Options tunes a Server.
type Options struct {
	// ProcessTimeout bounds a single Handle call.
	ProcessTimeout time.Duration
	// CallbackTries is the number of attempts to deliver a completion signal.
	CallbackTries int
	// CallbackInterval is the first delay between callback attempts.
	CallbackInterval time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Server exposes a Handler over HTTP.
type Server struct {
	kind    models.WorkerKind
	handler Handler
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a worker server for kind.
func NewServer(kind models.WorkerKind, handler Handler, opts Options) *Server {
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 10 * time.Minute
	}
	if opts.CallbackTries < 1 {
		opts.CallbackTries = 5
	}
	if opts.CallbackInterval <= 0 {
		opts.CallbackInterval = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		kind:    kind,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger.With("component", "worker", "kind", string(kind)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterRoutes mounts POST /tasks and GET /health.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/tasks", s.handleTask)
	e.GET("/health", health.Handler(string(s.kind)+"-worker", nil))
}

type accepted struct {
	Accepted      bool   `json:"accepted"`
	CorrelationID string `json:"correlation_id"`
}

func (s *Server) handleTask(c echo.Context) error {
	var req models.DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if _, err := models.ParseCorrelationID(req.CorrelationID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Kind != s.kind {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("this worker runs %s tasks, not %s", s.kind, req.Kind))
	}
	if req.CallbackURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "callback_url is required")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(req)
	}()
	return c.JSON(http.StatusAccepted, accepted{Accepted: true, CorrelationID: req.CorrelationID})
}

func (s *Server) process(req models.DispatchRequest) {
	logger := s.logger.With("correlation_id", req.CorrelationID)
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ProcessTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.safeHandle(ctx, req)
	sig := models.CompletionSignal{CorrelationID: req.CorrelationID, ReportedAt: time.Now().UTC()}
	if err != nil {
		sig.Error = classify(ctx, err)
		logger.Warn("task attempt failed", "error", err, "class", sig.Error.Class, "duration", time.Since(start))
	} else {
		sig.Success = true
		sig.Result = result
		logger.Info("task attempt succeeded", "duration", time.Since(start))
	}

	if err := s.report(req.CallbackURL, sig); err != nil {
		logger.Error("completion signal could not be delivered", "error", err)
	}
}

func (s *Server) safeHandle(ctx context.Context, req models.DispatchRequest) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler.Handle(ctx, req)
}

// classify maps a handler error to the error detail the retry controller
// decides on.
func classify(ctx context.Context, err error) *models.TaskError {
	var terr *models.ToolError
	if errors.As(err, &terr) {
		return &models.TaskError{Class: models.ClassTool, Code: terr.Code, Message: terr.Message}
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return &models.TaskError{Class: models.ClassValidation, Message: verr.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.TaskError{Class: models.ClassWorker, Message: "processing timed out: " + err.Error()}
	}
	return &models.TaskError{Class: models.ClassWorker, Message: err.Error()}
}

// report posts the completion signal, retrying transient failures.
func (s *Server) report(url string, sig models.CompletionSignal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal completion signal: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", sig.CorrelationID)

		resp, err := s.opts.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("callback answered %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("callback rejected signal with %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.CallbackInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.CallbackTries-1)), s.ctx)
	return backoff.Retry(op, policy)
}

// Shutdown waits for in-flight tasks to finish reporting. When ctx expires
// first, remaining work is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// NewHandler returns the built-in handler for kind.
func NewHandler(kind models.WorkerKind, deps Deps) (Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case models.KindCodegen:
		if deps.Tools == nil {
			return nil, errors.New("codegen worker needs a tool gateway")
		}
		return &Codegen{Tools: deps.Tools, LLM: deps.LLM, Logger: logger}, nil
	case models.KindTemplate:
		return HandlerFunc(scaffoldSite), nil
	case models.KindPolicy:
		return HandlerFunc(evaluatePolicies), nil
	case models.KindDeployment:
		return HandlerFunc(deploy), nil
	case models.KindObservability:
		return HandlerFunc(provisionObservability), nil
	case models.KindRemediation:
		if deps.Tools == nil {
			return nil, errors.New("remediation worker needs a tool gateway")
		}
		return &Remediation{Tools: deps.Tools}, nil
	case models.KindIntake:
		if deps.Tools == nil {
			return nil, errors.New("intake worker needs a tool gateway")
		}
		return &Intake{Tools: deps.Tools, LLM: deps.LLM, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown worker kind %q", kind)
	}
}

// Deps are the collaborators built-in handlers may need.
type Deps struct {
	Tools  Tools
	LLM    llm.Completer
	Logger *slog.Logger
}
