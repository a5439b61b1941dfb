package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

func TestBackoffMonotoneAndBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}.withDefaults()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}

func TestDecide(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         time.Minute,
		Multiplier:  2,
		Fallbacks: []FallbackRule{
			{From: models.KindCodegen, To: models.KindTemplate, AfterAttempt: 2, OnErrors: []models.ErrorClass{models.ClassWorker}},
			{From: models.KindIntake, To: models.KindTemplate, AfterAttempt: 1, OnErrors: []models.ErrorClass{models.ClassWorker, models.ClassTool}},
		},
	}.withDefaults()

	workerErr := &models.TaskError{Class: models.ClassWorker, Message: "boom"}
	toolErr := &models.TaskError{Class: models.ClassTool, Code: models.CodeInternalError, Message: "boom"}

	tests := []struct {
		name     string
		kind     models.WorkerKind
		attempts int
		cause    *models.TaskError
		want     Decision
	}{
		{"first failure retries", models.KindCodegen, 1, workerErr, Decision{Outcome: OutcomeRetry, Delay: time.Second, Kind: models.KindCodegen}},
		{"fallback after second attempt", models.KindCodegen, 2, workerErr, Decision{Outcome: OutcomeRetry, Delay: 2 * time.Second, Kind: models.KindTemplate}},
		{"fallback needs matching class", models.KindCodegen, 2, toolErr, Decision{Outcome: OutcomeRetry, Delay: 2 * time.Second, Kind: models.KindCodegen}},
		{"intake falls back at once", models.KindIntake, 1, workerErr, Decision{Outcome: OutcomeRetry, Delay: time.Second, Kind: models.KindTemplate}},
		{"bound reached", models.KindCodegen, 3, workerErr, Decision{Outcome: OutcomeFail, Kind: models.KindCodegen}},
		{"validation never retried", models.KindPolicy, 1, &models.TaskError{Class: models.ClassValidation}, Decision{Outcome: OutcomeFail, Kind: models.KindPolicy}},
		{"already exists skipped", models.KindCodegen, 1, &models.TaskError{Class: models.ClassTool, Code: models.CodeAlreadyExists}, Decision{Outcome: OutcomeSkip, Kind: models.KindCodegen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.kind, tt.attempts, tt.cause))
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.OrchestratorConfig{
		MaxAttempts:   4,
		Backoff:       config.BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Multiplier: 3},
		AlreadyExists: "retry",
		Fallbacks: []config.FallbackRule{
			{From: "codegen", To: "template", AfterAttempt: 1, OnErrors: []string{"tool"}},
		},
	})

	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, AlreadyExistsRetry, p.AlreadyExists)
	assert.Equal(t, []FallbackRule{{From: models.KindCodegen, To: models.KindTemplate, AfterAttempt: 1, OnErrors: []models.ErrorClass{models.ClassTool}}}, p.Fallbacks)
}
