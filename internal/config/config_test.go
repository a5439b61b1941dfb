package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.DispatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.Backoff.Initial)
	assert.Equal(t, "GITHUB_TOKEN", cfg.Gateway.Secret.EnvVar)
	assert.Equal(t, 200*time.Millisecond, cfg.Events.RetryInterval)
	assert.False(t, cfg.Server.TLS.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.TLS.Hostnames)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: postgres
  db:
    host: db.internal
    port: 5433
orchestrator:
  dispatch_timeout: 3s
  fallbacks:
    - from: codegen
      to: template
      after_attempt: 2
      on_errors: [worker, tool]
workers:
  codegen: http://codegen:8000
gateway:
  github:
    base_url: https://ghe.example.com/api/v3
`)
	t.Setenv("AGENTIC_ORCHESTRATOR_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Orchestrator.DispatchTimeout)
	assert.Equal(t, "http://codegen:8000", cfg.Workers["codegen"])
	require.Len(t, cfg.Orchestrator.Fallbacks, 1)
	assert.Equal(t, "template", cfg.Orchestrator.Fallbacks[0].To)
	assert.Equal(t, []string{"worker", "tool"}, cfg.Orchestrator.Fallbacks[0].OnErrors)
	assert.Equal(t, "https://ghe.example.com/api/v3/", cfg.Gateway.GitHub.BaseURL)
	assert.Equal(t, "host=db.internal port=5433 user=agentic password= dbname=agentic sslmode=disable", cfg.PostgresDSN())
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Orchestrator.Fallbacks, 2)
	intake := cfg.Orchestrator.Fallbacks[1]
	assert.Equal(t, "intake", intake.From)
	assert.Equal(t, "template", intake.To)
	assert.Equal(t, 1, intake.AfterAttempt)
	assert.Equal(t, "http://localhost:8107", cfg.Workers["intake"])
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: dynamo\n"},
		{"zero attempts", "orchestrator:\n  max_attempts: 0\n"},
		{"unknown worker kind", "workers:\n  chatbot: http://x\n"},
		{"backoff max below initial", "orchestrator:\n  backoff:\n    initial: 10s\n    max: 1s\n"},
		{"auth incomplete", "auth:\n  enabled: true\n"},
		{"unknown already_exists action", "orchestrator:\n  already_exists: ignore\n"},
		{"tls without key file", "server:\n  tls:\n    enabled: true\n    cert_file: c.pem\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
