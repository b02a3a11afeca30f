package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"service unavailable", errors.New("503 Service Unavailable"), CategoryServerError},
		{"internal server error", errors.New("upstream said: Internal Server Error"), CategoryServerError},
		{"rate limited", errors.New("429 Too Many Requests"), CategoryRateLimit},
		{"timeout", errors.New("request timed out after 30s"), CategoryTimeout},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), CategoryConnectionError},
		{"unknown", errors.New("invalid recipient"), CategoryUnknown},
		{"explicit hint wins", protocol.NewNodeExecutionError("n1", "rate_limit", "503 from provider", nil), CategoryRateLimit},
		{"gateway timeout is a server error", errors.New("504 Gateway Timeout"), CategoryServerError},
		{"bare gateway timeout", errors.New("upstream gateway timeout"), CategoryServerError},
		{"request timeout", errors.New("408 Request Timeout"), CategoryTimeout},
		{"node id is not classified", protocol.NewNodeExecutionError("timeout_reminder", "", "invalid recipient", nil), CategoryUnknown},
		{"error kind is not classified", protocol.NewConfigurationError("rate_limit_check", "bad template", nil), CategoryUnknown},
		{"wrapped error text is classified", protocol.NewNodeExecutionError("send", "", "provider failed", errors.New("connection reset by peer")), CategoryConnectionError},
		{"nil", nil, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestPolicy_ScenarioDelays(t *testing.T) {
	policy := NewPolicy(models.RetryConfig{
		MaxRetries:               3,
		InitialDelay:             60,
		BackoffMultiplier:        2,
		MaxDelay:                 3600,
		RetryableErrorCategories: []string{"server_error"},
	})

	expected := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}

	for retryCount, delay := range expected {
		decision := policy.Decide(CategoryServerError, retryCount)
		assert.True(t, decision.Retry)
		assert.Equal(t, delay, decision.Delay)
	}

	decision := policy.Decide(CategoryServerError, 3)
	assert.False(t, decision.Retry)
	assert.Equal(t, CategoryServerError, decision.Category)
}

func TestPolicy_NonRetryableCategory(t *testing.T) {
	policy := NewPolicy(models.RetryConfig{
		MaxRetries:               5,
		InitialDelay:             1,
		BackoffMultiplier:        2,
		RetryableErrorCategories: []string{"timeout"},
	})

	assert.False(t, policy.Decide(CategoryServerError, 0).Retry)
	assert.False(t, policy.Decide(CategoryUnknown, 0).Retry)
	assert.True(t, policy.Decide(CategoryTimeout, 0).Retry)
}

func TestPolicy_RetryBound(t *testing.T) {
	for maxRetries := 0; maxRetries < 6; maxRetries++ {
		policy := NewPolicy(models.RetryConfig{
			MaxRetries:               maxRetries,
			InitialDelay:             1,
			BackoffMultiplier:        2,
			RetryableErrorCategories: []string{"server_error"},
		})

		attempts := 0
		retryCount := 0

		for {
			attempts++

			decision := policy.Decide(CategoryServerError, retryCount)
			if !decision.Retry {
				break
			}

			retryCount++
		}

		assert.Equal(t, maxRetries+1, attempts)
	}
}

func TestPolicy_BackoffMonotonicAndCapped(t *testing.T) {
	multipliers := []float64{1, 1.5, 2, 3}

	for _, multiplier := range multipliers {
		policy := NewPolicy(models.RetryConfig{
			MaxRetries:               20,
			InitialDelay:             5,
			BackoffMultiplier:        multiplier,
			MaxDelay:                 300,
			RetryableErrorCategories: []string{"timeout"},
		})

		previous := time.Duration(0)

		for retryCount := 0; retryCount < 20; retryCount++ {
			delay := policy.Delay(retryCount)
			assert.GreaterOrEqual(t, delay, previous)
			assert.LessOrEqual(t, delay, 300*time.Second)

			previous = delay
		}
	}
}

func TestPolicy_JitterNeverShortens(t *testing.T) {
	policy := NewPolicy(models.RetryConfig{
		MaxRetries:               3,
		InitialDelay:             10,
		BackoffMultiplier:        2,
		Jitter:                   true,
		RetryableErrorCategories: []string{"timeout"},
	})

	for i := 0; i < 50; i++ {
		delay := policy.Delay(1)
		assert.GreaterOrEqual(t, delay, 20*time.Second)
		assert.LessOrEqual(t, delay, 22*time.Second)
	}

	capped := NewPolicy(models.RetryConfig{
		MaxRetries:               10,
		InitialDelay:             60,
		BackoffMultiplier:        2,
		MaxDelay:                 100,
		Jitter:                   true,
		RetryableErrorCategories: []string{"timeout"},
	})

	for i := 0; i < 200; i++ {
		assert.Equal(t, 100*time.Second, capped.Delay(5))

		delay := capped.Delay(0)
		assert.GreaterOrEqual(t, delay, 60*time.Second)
		assert.LessOrEqual(t, delay, 66*time.Second)
	}
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, CategoryServerError, ClassifyMessage("HTTP 504 from upstream"))
	assert.Equal(t, CategoryTimeout, ClassifyMessage("context deadline exceeded"))
	assert.Equal(t, CategoryUnknown, ClassifyMessage("invalid recipient"))
}
