// Package secrets resolves credentials for outbound integrations from the
// environment or AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

// ErrEmpty is returned when a source resolves to an empty value.
var ErrEmpty = errors.New("secret is empty")

// Source fetches one secret value.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// EnvSource reads a secret from an environment variable.
type EnvSource struct {
	Var string
}

func (s EnvSource) Fetch(ctx context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(s.Var))
	if v == "" {
		return "", fmt.Errorf("environment variable %s: %w", s.Var, ErrEmpty)
	}
	return v, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads a secret from AWS Secrets Manager. When JSONKey is set the
// secret string is decoded as a JSON object and that key is returned.
type AWSSource struct {
	Client   SecretsManagerAPI
	SecretID string
	JSONKey  string
}

// NewAWSSource builds an AWSSource using the default credential chain.
func NewAWSSource(ctx context.Context, region, secretID, jsonKey string) (*AWSSource, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSSource{
		Client:   secretsmanager.NewFromConfig(cfg),
		SecretID: secretID,
		JSONKey:  jsonKey,
	}, nil
}

func (s *AWSSource) Fetch(ctx context.Context) (string, error) {
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %s: %w", s.SecretID, err)
	}
	raw := aws.ToString(out.SecretString)
	if s.JSONKey != "" {
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return "", fmt.Errorf("secret %s is not a JSON object: %w", s.SecretID, err)
		}
		v, _ := fields[s.JSONKey].(string)
		raw = v
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("secret %s: %w", s.SecretID, ErrEmpty)
	}
	return raw, nil
}

// Credential resolves its source on first use and keeps the value for the
// life of the process. Failed lookups are not cached. Concurrent callers
// share one in-flight fetch.
type Credential struct {
	source Source
	group  singleflight.Group

	mu    sync.RWMutex
	value string
}

// NewCredential wraps source.
func NewCredential(source Source) *Credential {
	return &Credential{source: source}
}

// Get returns the cached value, fetching it if needed. A caller whose ctx
// ends stops waiting; the shared fetch carries on for the others.
func (c *Credential) Get(ctx context.Context) (string, error) {
	if v := c.cached(); v != "" {
		return v, nil
	}
	ch := c.group.DoChan("credential", func() (any, error) {
		if v := c.cached(); v != "" {
			return v, nil
		}
		v, err := c.source.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.value = v
		c.mu.Unlock()
		return v, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Credential) cached() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// NewSource builds the source named by kind ("env" or "aws").
func NewSource(ctx context.Context, kind, envVar, region, secretID, jsonKey string) (Source, error) {
	switch kind {
	case "", "env":
		if envVar == "" {
			return nil, errors.New("secret env_var is required for the env source")
		}
		return EnvSource{Var: envVar}, nil
	case "aws":
		if secretID == "" {
			return nil, errors.New("secret secret_id is required for the aws source")
		}
		return NewAWSSource(ctx, region, secretID, jsonKey)
	default:
		return nil, fmt.Errorf("unknown secret source %q", kind)
	}
}
