// Package api contains the HTTP handlers of the orchestrator service.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/darrylbowler72/agenticframework-sub001/internal/auth"
	"github.com/darrylbowler72/agenticframework-sub001/internal/dedupe"
	"github.com/darrylbowler72/agenticframework-sub001/internal/events"
	"github.com/darrylbowler72/agenticframework-sub001/internal/health"
	"github.com/darrylbowler72/agenticframework-sub001/internal/orchestrator"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Workflows is the orchestrator surface the API needs.
type Workflows interface {
	SubmitWorkflow(ctx context.Context, req orchestrator.SubmitRequest) (*models.WorkflowView, error)
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowView, error)
}

// DeadLetterSource lists events no subscriber accepted.
type DeadLetterSource interface {
	DeadLetters() []events.DeadLetter
}

// Server holds the dependencies for the API server.
type Server struct {
	Workflows   Workflows
	Events      events.Publisher
	DeadLetters DeadLetterSource
	// Seen drops repeated completion signals before they reach the router.
	Seen   *dedupe.Cache
	Logger *slog.Logger
}

// NewServer creates a new Server.
func NewServer(w Workflows, pub events.Publisher, dl DeadLetterSource, seen *dedupe.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Workflows: w, Events: pub, DeadLetters: dl, Seen: seen, Logger: logger.With("component", "api")}
}

// Routes configures optional route groups.
type Routes struct {
	// Auth guards the client-facing routes when set.
	Auth echo.MiddlewareFunc
	// Checks are reported by GET /health.
	Checks map[string]health.Check
	// Issuer and ClientID configure the API docs page.
	Issuer   string
	ClientID string
}

// RegisterRoutes mounts every orchestrator endpoint on e.
func (s *Server) RegisterRoutes(e *echo.Echo, r Routes) {
	var guarded []echo.MiddlewareFunc
	if r.Auth != nil {
		guarded = append(guarded, r.Auth)
	}

	wf := e.Group("/workflows", guarded...)
	wf.POST("", s.SubmitWorkflow)
	wf.GET("/:id", s.GetWorkflow)
	e.GET("/deadletters", s.ListDeadLetters, guarded...)

	e.POST("/callbacks/tasks", s.HandleCallback)
	e.GET("/health", health.Handler("orchestrator", r.Checks))

	e.GET("/openapi.yaml", SpecHandler(r.Issuer))
	e.GET("/docs", DocsHandler(r.ClientID))
	e.GET("/docs/oauth2-redirect.html", OAuthRedirectHandler)
}

// SubmitWorkflow plans and stores a workflow
// (POST /workflows)
func (s *Server) SubmitWorkflow(c echo.Context) error {
	var req orchestrator.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.RequestedBy == "" {
		if id, ok := auth.IdentityFrom(c.Request().Context()); ok {
			req.RequestedBy = id.Email
		}
	}

	view, err := s.Workflows.SubmitWorkflow(c.Request().Context(), req)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/workflows/"+view.ID)
	return c.JSON(http.StatusCreated, view)
}

// GetWorkflow returns a workflow with its tasks
// (GET /workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	view, err := s.Workflows.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

type callbackAck struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// HandleCallback accepts a worker's completion signal and hands it to the
// event router
// (POST /callbacks/tasks)
func (s *Server) HandleCallback(c echo.Context) error {
	var sig models.CompletionSignal
	if err := c.Bind(&sig); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if _, err := models.ParseCorrelationID(sig.CorrelationID); err != nil {
		return &models.ValidationError{Field: "correlation_id", Message: err.Error()}
	}

	if s.Seen != nil && s.Seen.Seen(sig.CorrelationID) {
		s.Logger.Debug("duplicate completion dropped", "correlation_id", sig.CorrelationID)
		return c.JSON(http.StatusAccepted, callbackAck{Accepted: true, Duplicate: true})
	}
	if err := s.Events.Publish(c.Request().Context(), events.TopicTaskCompletion, sig); err != nil {
		if s.Seen != nil {
			s.Seen.Forget(sig.CorrelationID)
		}
		if errors.Is(err, events.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
		}
		return err
	}
	return c.JSON(http.StatusAccepted, callbackAck{Accepted: true})
}

// ListDeadLetters returns events that exhausted their deliveries
// (GET /deadletters)
func (s *Server) ListDeadLetters(c echo.Context) error {
	dl := s.DeadLetters.DeadLetters()
	if dl == nil {
		dl = []events.DeadLetter{}
	}
	return c.JSON(http.StatusOK, dl)
}
