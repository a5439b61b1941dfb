package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Config holds the configuration for every component. Each binary reads the
// sections it needs.
type Config struct {
	Environment string `mapstructure:"environment"`

	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		TLS          struct {
			Enabled   bool     `mapstructure:"enabled"`
			CertFile  string   `mapstructure:"cert_file"`
			KeyFile   string   `mapstructure:"key_file"`
			Hostnames []string `mapstructure:"hostnames"`
		} `mapstructure:"tls"`
	} `mapstructure:"server"`

	Store struct {
		Driver string `mapstructure:"driver"`
		DB     struct {
			Host     string `mapstructure:"host"`
			Port     int    `mapstructure:"port"`
			User     string `mapstructure:"user"`
			Password string `mapstructure:"password"`
			Name     string `mapstructure:"name"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"db"`
		Redis struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"store"`

	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

	// Workers maps a worker kind to the base URL of its service.
	Workers map[string]string `mapstructure:"workers"`

	Events struct {
		MaxAttempts   int                 `mapstructure:"max_attempts"`
		RetryInterval time.Duration       `mapstructure:"retry_interval"`
		Subscriptions []EventSubscription `mapstructure:"subscriptions"`
	} `mapstructure:"events"`

	Gateway struct {
		Secret struct {
			Source   string `mapstructure:"source"`
			EnvVar   string `mapstructure:"env_var"`
			SecretID string `mapstructure:"secret_id"`
			JSONKey  string `mapstructure:"json_key"`
			Region   string `mapstructure:"region"`
		} `mapstructure:"secret"`
		GitHub struct {
			Owner   string `mapstructure:"owner"`
			BaseURL string `mapstructure:"base_url"`
		} `mapstructure:"github"`
	} `mapstructure:"gateway"`

	Worker struct {
		Kind           string        `mapstructure:"kind"`
		GatewayURL     string        `mapstructure:"gateway_url"`
		CallbackTries  int           `mapstructure:"callback_tries"`
		ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	} `mapstructure:"worker"`

	Planner struct {
		Enabled   bool   `mapstructure:"enabled"`
		Model     string `mapstructure:"model"`
		APIKey    string `mapstructure:"api_key"`
		MaxTokens int64  `mapstructure:"max_tokens"`
	} `mapstructure:"planner"`

	Auth struct {
		Enabled  bool   `mapstructure:"enabled"`
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"auth"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TelemetryConfig controls the OTLP/HTTP exporters. An empty endpoint falls
// back to the OTEL_EXPORTER_OTLP_* environment variables.
type TelemetryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Insecure bool          `mapstructure:"insecure"`
	Interval time.Duration `mapstructure:"interval"`
}

// OrchestratorConfig holds dispatch and retry tuning.
type OrchestratorConfig struct {
	CallbackURL      string         `mapstructure:"callback_url"`
	MaxAttempts      int            `mapstructure:"max_attempts"`
	DispatchTimeout  time.Duration  `mapstructure:"dispatch_timeout"`
	DispatchDeadline time.Duration  `mapstructure:"dispatch_deadline"`
	WorkflowTimeout  time.Duration  `mapstructure:"workflow_timeout"`
	SweepInterval    time.Duration  `mapstructure:"sweep_interval"`
	Backoff          BackoffConfig  `mapstructure:"backoff"`
	Fallbacks        []FallbackRule `mapstructure:"fallbacks"`
	// AlreadyExists is "skip" or "retry".
	AlreadyExists string `mapstructure:"already_exists"`
}

// BackoffConfig bounds the delay between task retries.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// FallbackRule reroutes a failing task to another worker kind.
type FallbackRule struct {
	From         string   `mapstructure:"from"`
	To           string   `mapstructure:"to"`
	AfterAttempt int      `mapstructure:"after_attempt"`
	OnErrors     []string `mapstructure:"on_errors"`
}

// EventSubscription forwards a topic to a remote HTTP endpoint.
type EventSubscription struct {
	Topic string `mapstructure:"topic"`
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.hostnames", []string{"localhost", "127.0.0.1"})

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.db.host", "localhost")
	v.SetDefault("store.db.port", 5432)
	v.SetDefault("store.db.user", "agentic")
	v.SetDefault("store.db.password", "")
	v.SetDefault("store.db.name", "agentic")
	v.SetDefault("store.db.sslmode", "disable")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "agentic")

	v.SetDefault("orchestrator.callback_url", "http://localhost:8080/callbacks/tasks")
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.dispatch_timeout", "10s")
	v.SetDefault("orchestrator.dispatch_deadline", "15m")
	v.SetDefault("orchestrator.workflow_timeout", "2h")
	v.SetDefault("orchestrator.sweep_interval", "5s")
	v.SetDefault("orchestrator.backoff.initial", "2s")
	v.SetDefault("orchestrator.backoff.max", "1m")
	v.SetDefault("orchestrator.backoff.multiplier", 2.0)
	v.SetDefault("orchestrator.already_exists", "skip")

	v.SetDefault("events.max_attempts", 5)
	v.SetDefault("events.retry_interval", "200ms")

	v.SetDefault("gateway.secret.source", "env")
	v.SetDefault("gateway.secret.env_var", "GITHUB_TOKEN")
	v.SetDefault("gateway.secret.secret_id", "")
	v.SetDefault("gateway.secret.json_key", "")
	v.SetDefault("gateway.secret.region", "us-east-1")
	v.SetDefault("gateway.github.owner", "")
	v.SetDefault("gateway.github.base_url", "")

	v.SetDefault("worker.kind", "")
	v.SetDefault("worker.gateway_url", "http://localhost:8100")
	v.SetDefault("worker.callback_tries", 5)
	v.SetDefault("worker.process_timeout", "10m")

	v.SetDefault("planner.enabled", false)
	v.SetDefault("planner.model", "claude-sonnet-4-20250514")
	v.SetDefault("planner.api_key", "")
	v.SetDefault("planner.max_tokens", 2000)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.interval", "30s")
}

// LoadConfig loads the configuration from a file and the environment.
// When path is empty, config.yaml is searched in . and ./config; a missing
// file is not an error so that deployments can be configured by environment
// alone (AGENTIC_STORE_DRIVER, AGENTIC_ORCHESTRATOR_MAX_ATTEMPTS, ...).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("AGENTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Gateway.GitHub.BaseURL = normalizeBaseURL(cfg.Gateway.GitHub.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("store.driver must be memory, postgres or redis, got %q", c.Store.Driver)
	}
	o := c.Orchestrator
	if o.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1")
	}
	if o.DispatchTimeout <= 0 || o.DispatchDeadline <= 0 || o.SweepInterval <= 0 {
		return fmt.Errorf("orchestrator timeouts must be positive")
	}
	if o.Backoff.Initial <= 0 || o.Backoff.Max < o.Backoff.Initial || o.Backoff.Multiplier < 1 {
		return fmt.Errorf("orchestrator.backoff must satisfy 0 < initial <= max and multiplier >= 1")
	}
	if o.AlreadyExists != "skip" && o.AlreadyExists != "retry" {
		return fmt.Errorf("orchestrator.already_exists must be skip or retry, got %q", o.AlreadyExists)
	}
	for kind := range c.Workers {
		if !models.WorkerKind(kind).Valid() {
			return fmt.Errorf("workers: unknown worker kind %q", kind)
		}
	}
	for i, f := range o.Fallbacks {
		if !models.WorkerKind(f.From).Valid() || !models.WorkerKind(f.To).Valid() {
			return fmt.Errorf("orchestrator.fallbacks[%d]: unknown worker kind", i)
		}
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls requires cert_file and key_file")
	}
	if c.Auth.Enabled && (c.Auth.Issuer == "" || c.Auth.ClientID == "") {
		return errors.New("auth configuration is incomplete")
	}
	return nil
}

// PostgresDSN renders the store.db section as a libpq connection string.
func (c *Config) PostgresDSN() string {
	db := c.Store.DB
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.Name, db.SSLMode,
	)
}

// normalizeBaseURL makes sure a configured API base URL ends with a slash,
// which the GitHub client requires for relative resolution.
func normalizeBaseURL(input string) string {
	u := strings.TrimSpace(input)
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
