package orchestrator

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// AlreadyExistsAction decides what a worker-reported "already exists" tool
// error does to the task.
type AlreadyExistsAction string

const (
	// AlreadyExistsSkip completes the task, recording the skip in its result.
	AlreadyExistsSkip AlreadyExistsAction = "skip"
	// AlreadyExistsRetry treats it like any other failed attempt.
	AlreadyExistsRetry AlreadyExistsAction = "retry"
)

// FallbackRule switches a task to another worker kind once it has failed
// enough times with a matching error class.
type FallbackRule struct {
	From         models.WorkerKind
	To           models.WorkerKind
	AfterAttempt int
	// OnErrors limits the rule to these classes; empty matches all.
	OnErrors []models.ErrorClass
}

// RetryPolicy is the retry/remediation controller's configuration.
type RetryPolicy struct {
	MaxAttempts   int
	Initial       time.Duration
	Max           time.Duration
	Multiplier    float64
	Fallbacks     []FallbackRule
	AlreadyExists AlreadyExistsAction
}

// Outcome is the controller's verdict on a failed attempt.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomeFail
	OutcomeSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeFail:
		return "fail"
	case OutcomeSkip:
		return "skip"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Decision is what happens after a failed attempt.
type Decision struct {
	Outcome Outcome
	// Delay before the next attempt when Outcome is OutcomeRetry.
	Delay time.Duration
	// Kind is the worker kind for the next attempt.
	Kind models.WorkerKind
}

// PolicyFromConfig builds a RetryPolicy from configuration.
func PolicyFromConfig(cfg config.OrchestratorConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		Initial:       cfg.Backoff.Initial,
		Max:           cfg.Backoff.Max,
		Multiplier:    cfg.Backoff.Multiplier,
		AlreadyExists: AlreadyExistsAction(cfg.AlreadyExists),
	}
	for _, f := range cfg.Fallbacks {
		rule := FallbackRule{
			From:         models.WorkerKind(f.From),
			To:           models.WorkerKind(f.To),
			AfterAttempt: f.AfterAttempt,
		}
		for _, c := range f.OnErrors {
			rule.OnErrors = append(rule.OnErrors, models.ErrorClass(c))
		}
		p.Fallbacks = append(p.Fallbacks, rule)
	}
	return p.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.Initial <= 0 {
		p.Initial = 2 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.AlreadyExists == "" {
		p.AlreadyExists = AlreadyExistsSkip
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based). The
// sequence never decreases and is capped at Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Decide classifies a failed attempt. attempts is the task's attempt counter
// including the attempt that just failed.
func (p RetryPolicy) Decide(kind models.WorkerKind, attempts int, cause *models.TaskError) Decision {
	if cause != nil && cause.Class == models.ClassTool && cause.Code == models.CodeAlreadyExists &&
		p.AlreadyExists == AlreadyExistsSkip {
		return Decision{Outcome: OutcomeSkip, Kind: kind}
	}
	if cause != nil && cause.Class == models.ClassValidation {
		return Decision{Outcome: OutcomeFail, Kind: kind}
	}
	if attempts >= p.MaxAttempts {
		return Decision{Outcome: OutcomeFail, Kind: kind}
	}
	return Decision{
		Outcome: OutcomeRetry,
		Delay:   p.Backoff(attempts),
		Kind:    p.fallbackKind(kind, attempts, cause),
	}
}

func (p RetryPolicy) fallbackKind(kind models.WorkerKind, attempts int, cause *models.TaskError) models.WorkerKind {
	for _, rule := range p.Fallbacks {
		if rule.From != kind || attempts < rule.AfterAttempt {
			continue
		}
		if len(rule.OnErrors) == 0 {
			return rule.To
		}
		for _, c := range rule.OnErrors {
			if cause != nil && cause.Class == c {
				return rule.To
			}
		}
	}
	return kind
}
