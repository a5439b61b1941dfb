// Package auth verifies OpenID Connect bearer tokens on the orchestrator API
// and records the caller's identity on the request context.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Email   string
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the middleware, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Auth verifies bearer tokens issued by one OIDC provider.
type Auth struct {
	verifier *oidc.IDTokenVerifier
	logger   *slog.Logger
}

// New discovers the provider at issuer and prepares a token verifier.
// Access tokens often carry an API audience rather than the client id, so
// the audience check is skipped.
func New(ctx context.Context, issuer, clientID string, logger *slog.Logger) (*Auth, error) {
	if issuer == "" || clientID == "" {
		return nil, errors.New("auth configuration is incomplete")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID, SkipClientIDCheck: true})
	return NewWithVerifier(verifier, logger), nil
}

// NewWithVerifier wraps an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{verifier: verifier, logger: logger.With("component", "auth")}
}

// Middleware rejects requests without a valid bearer token.
func (a *Auth) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := a.verifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				a.logger.Debug("token rejected", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token: "+err.Error())
			}

			var claims struct {
				Email string `json:"email"`
			}
			if err := token.Claims(&claims); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "failed to parse token claims")
			}

			id := Identity{Subject: token.Subject, Email: claims.Email}
			c.SetRequest(r.WithContext(WithIdentity(r.Context(), id)))
			return next(c)
		}
	}
}
