package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

// HTTPErrorHandler renders every handler error as problem details. Domain
// errors are mapped to their status codes; anything unrecognised is a 500
// whose cause is logged but not exposed.
func HTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := toProblem(err)
		problem.Instance = c.Request().URL.Path
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", problem.Instance, "error", err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		c.Response().WriteHeader(problem.Status)
		if c.Request().Method == http.MethodHead {
			return
		}
		if encErr := c.Echo().JSONSerializer.Serialize(c, problem, ""); encErr != nil {
			logger.Error("writing problem response", "error", encErr)
		}
	}
}

func toProblem(err error) ProblemDetails {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return ProblemDetails{Type: "about:blank", Title: "Validation Failed", Status: http.StatusBadRequest, Detail: verr.Message, Field: verr.Field}
	}
	if models.IsNotFound(err) {
		return ProblemDetails{Type: "about:blank", Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error()}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return ProblemDetails{Type: "about:blank", Title: http.StatusText(he.Code), Status: he.Code, Detail: fmt.Sprint(he.Message)}
	}
	return ProblemDetails{Type: "about:blank", Title: "Internal Server Error", Status: http.StatusInternalServerError, Detail: "an unexpected error occurred"}
}
