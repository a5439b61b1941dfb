package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

const readmeSystemPrompt = `You write README files for freshly scaffolded microservices.
Answer with the markdown document only.`

// Codegen scaffolds a service and pushes it to a new repository through the
// tool gateway. Objects that already exist are left in place.
type Codegen struct {
	Tools Tools
	// LLM, when set, rewrites the scaffolded README.
	LLM    llm.Completer
	Logger *slog.Logger
}

func (g *Codegen) Handle(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	name, _ := req.Input["service_name"].(string)
	language, _ := req.Input["language"].(string)
	if name == "" {
		return nil, &models.ValidationError{Field: "service_name", Message: "is required"}
	}
	if _, ok := scaffoldSets[language]; !ok || language == "common" || language == "static" {
		return nil, &models.ValidationError{Field: "language", Message: fmt.Sprintf("unsupported language %q", language)}
	}

	data := scaffoldData{
		ServiceName: name,
		Description: req.Description,
		Language:    language,
		Database:    stringOr(req.Input["database"], "none"),
		Environment: stringOr(req.Input["environment"], "dev"),
		Module:      "example.com/" + name,
	}
	files, err := render(data, language, "common")
	if err != nil {
		return nil, err
	}

	enhanced := false
	if g.LLM != nil {
		readme, err := g.enhanceReadme(ctx, data, sortedPaths(files))
		if err != nil {
			g.Logger.Warn("README enhancement failed, keeping template", "service", name, "error", err)
		} else {
			files["README.md"] = readme
			enhanced = true
		}
	}

	repo, existed, err := g.ensureRepository(ctx, req, data)
	if err != nil {
		return nil, err
	}

	created, skipped, err := pushFiles(ctx, g.Tools, req.CorrelationID, name, "", files)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"agent":              string(models.KindCodegen),
		"repository":         repo,
		"repository_existed": existed,
		"language":           language,
		"files":              toAny(sortedPaths(files)),
		"created":            created,
		"skipped":            skipped,
		"readme_enhanced":    enhanced,
		"digest":             digest(files),
	}, nil
}

func (g *Codegen) ensureRepository(ctx context.Context, req models.DispatchRequest, data scaffoldData) (string, bool, error) {
	result, err := g.Tools.Call(ctx, "github.create_repository", map[string]any{
		"name":        data.ServiceName,
		"description": req.Description,
		"private":     false,
	}, req.CorrelationID)
	if isAlreadyExists(err) {
		g.Logger.Info("repository already exists, reusing it", "service", data.ServiceName)
		return data.ServiceName, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("creating repository: %w", err)
	}
	return stringOr(result["full_name"], data.ServiceName), false, nil
}

func (g *Codegen) enhanceReadme(ctx context.Context, data scaffoldData, paths []string) (string, error) {
	prompt := fmt.Sprintf(`Write a README.md for the %s service.
Description: %s
Language: %s
Database: %s
Files: %v
Cover purpose, local development, configuration and deployment.`,
		data.ServiceName, data.Description, data.Language, data.Database, paths)

	text, err := g.LLM.Complete(ctx, readmeSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	text = llm.StripCodeFence(text)
	if text == "" {
		return "", errors.New("model returned an empty README")
	}
	return text, nil
}

// pushFiles commits files in path order. An empty branch means the default
// branch. Files that already exist are reported as skipped.
func pushFiles(ctx context.Context, tools Tools, correlationID, repo, branch string, files map[string]string) (created, skipped []any, err error) {
	for _, path := range sortedPaths(files) {
		params := map[string]any{
			"repository": repo,
			"path":       path,
			"content":    files[path],
			"message":    "Add " + path,
		}
		if branch != "" {
			params["branch"] = branch
		}
		_, err := tools.Call(ctx, "github.create_file", params, correlationID)
		if isAlreadyExists(err) {
			skipped = append(skipped, path)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("pushing %s: %w", path, err)
		}
		created = append(created, path)
	}
	return created, skipped, nil
}

func isAlreadyExists(err error) bool {
	var terr *models.ToolError
	return errors.As(err, &terr) && terr.AlreadyExists()
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
