package api

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec string

// SpecHandler serves the OpenAPI YAML spec with the {oidcIssuer} placeholder
// replaced, so the published document names the live issuer.
func SpecHandler(issuer string) echo.HandlerFunc {
	spec := strings.ReplaceAll(openAPISpec, "{oidcIssuer}", strings.TrimRight(issuer, "/"))
	return func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", []byte(spec))
	}
}

// DocsHandler serves a Swagger UI page for openapi.yaml. When clientID is set
// the page offers PKCE login against the configured issuer.
func DocsHandler(clientID string) echo.HandlerFunc {
	html := strings.ReplaceAll(swaggerHTML, "${CLIENT_ID}", clientID)
	return func(c echo.Context) error {
		r := c.Request()
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		page := strings.ReplaceAll(html, "${OAUTH2_REDIRECT}", scheme+"://"+r.Host+"/docs/oauth2-redirect.html")
		return c.HTML(http.StatusOK, page)
	}
}

// OAuthRedirectHandler serves the OAuth2 redirect page used by Swagger UI
func OAuthRedirectHandler(c echo.Context) error {
	return c.HTML(http.StatusOK, oauthRedirectHTML)
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Workflow Orchestrator API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    const ui = SwaggerUIBundle({
      url: "/openapi.yaml",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      oauth2RedirectUrl: "${OAUTH2_REDIRECT}",
    });
    const clientId = "${CLIENT_ID}";
    if (clientId) {
      ui.initOAuth({ clientId: clientId, usePkceWithAuthorizationCodeGrant: true });
    }
    window.ui = ui;
  }
  </script>
</body>
</html>`

const oauthRedirectHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"/><title>OAuth2 Redirect</title></head>
<body>
<script>
if (window.opener && window.opener.swaggerUIRedirectCallback) {
  window.opener.swaggerUIRedirectCallback(window.location.href);
}
</script>
</body>
</html>`
