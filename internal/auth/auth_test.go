package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
)

const (
	testIssuer   = "https://test-issuer.com"
	testClientID = "test-client"
)

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func fakeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func validClaims() map[string]any {
	return map[string]any{
		"iss":   testIssuer,
		"aud":   "api://default",
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": "user@acme.com",
	}
}

func newTestAuth() *Auth {
	verifier := oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{
		ClientID:          testClientID,
		SkipClientIDCheck: true,
	})
	return NewWithVerifier(verifier, logging.Discard())
}

func serve(a *Auth, authorization string) (*httptest.ResponseRecorder, *Identity, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/workflows", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen *Identity
	err := a.Middleware()(func(c echo.Context) error {
		if id, ok := IdentityFrom(c.Request().Context()); ok {
			seen = &id
		}
		return c.NoContent(http.StatusOK)
	})(c)
	return rec, seen, err
}

func TestMiddleware_BearerToken_SetsIdentity(t *testing.T) {
	rec, id, err := serve(newTestAuth(), "Bearer "+fakeToken(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "user@acme.com", id.Email)
	assert.Equal(t, "test-user", id.Subject)
}

func TestMiddleware_Rejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"malformed token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + fakeToken(t, expired)},
		{"wrong issuer", "Bearer " + fakeToken(t, wrongIssuer)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, id, err := serve(newTestAuth(), tt.header)
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, http.StatusUnauthorized, he.Code)
			assert.Nil(t, id)
		})
	}
}

func TestNew_IncompleteConfig(t *testing.T) {
	_, err := New(context.Background(), "", "client", nil)
	assert.Error(t, err)
}

func TestIdentityFrom_Empty(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)
}
