package worker

import (
	"context"
	"fmt"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// scaffoldSite renders the static site set, or a service skeleton when the
// input names a service instead of a site. A project_name without a
// supported language also gets the static set. Nothing is pushed.
func scaffoldSite(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	name := stringOr(req.Input["site_name"], "")
	sets := []string{"static"}
	data := scaffoldData{
		Description: req.Description,
		Environment: stringOr(req.Input["environment"], "dev"),
	}
	lang := stringOr(req.Input["language"], "")
	switch {
	case name != "":
	case req.Input["service_name"] != nil:
		// codegen fallback: render the service skeleton without pushing it
		name = stringOr(req.Input["service_name"], "")
		if name == "" {
			return nil, &models.ValidationError{Field: "service_name", Message: "is required"}
		}
		if !isServiceLanguage(lang) {
			return nil, &models.ValidationError{Field: "language", Message: fmt.Sprintf("unsupported language %q", lang)}
		}
		sets = []string{lang, "common"}
		data.Language = lang
		data.Database = stringOr(req.Input["database"], "none")
		data.Module = "example.com/" + name
	case req.Input["project_name"] != nil:
		// intake fallback
		name = stringOr(req.Input["project_name"], "")
		if name == "" {
			return nil, &models.ValidationError{Field: "project_name", Message: "is required"}
		}
		sets = []string{"static", "common"}
		data.Language = "none"
		data.Database = "none"
		if isServiceLanguage(lang) {
			sets = []string{lang, "common"}
			data.Language = lang
			data.Module = "example.com/" + name
		}
	default:
		return nil, &models.ValidationError{Field: "site_name", Message: "is required"}
	}
	data.ServiceName = name

	files, err := render(data, sets...)
	if err != nil {
		return nil, err
	}
	size := 0
	for _, body := range files {
		size += len(body)
	}
	return map[string]any{
		"agent":  string(models.KindTemplate),
		"site":   name,
		"files":  toAny(sortedPaths(files)),
		"bytes":  size,
		"digest": digest(files),
	}, nil
}

// deploy records a deployment of the service or site to its environment.
func deploy(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	name := stringOr(req.Input["service_name"], stringOr(req.Input["site_name"], ""))
	if name == "" {
		return nil, &models.ValidationError{Field: "service_name", Message: "is required"}
	}
	env := stringOr(req.Input["environment"], "dev")
	strategy := "rolling"
	replicas := 1
	if env == "prod" {
		strategy = "blue-green"
		replicas = 3
	}
	return map[string]any{
		"agent":       string(models.KindDeployment),
		"service":     name,
		"environment": env,
		"status":      "deployed",
		"strategy":    strategy,
		"replicas":    replicas,
		"endpoint":    fmt.Sprintf("https://%s.%s.internal", name, env),
	}, nil
}

// provisionObservability describes the dashboards and alerts for a service.
func provisionObservability(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	name := stringOr(req.Input["service_name"], "")
	if name == "" {
		return nil, &models.ValidationError{Field: "service_name", Message: "is required"}
	}
	env := stringOr(req.Input["environment"], "dev")
	availability := 99.0
	if env == "prod" {
		availability = 99.9
	}
	return map[string]any{
		"agent":      string(models.KindObservability),
		"service":    name,
		"dashboards": []any{name + "-overview", name + "-latency"},
		"alerts":     []any{name + "-high-error-rate", name + "-high-latency"},
		"slo":        map[string]any{"availability": availability, "latency_p99_ms": 500},
	}, nil
}
