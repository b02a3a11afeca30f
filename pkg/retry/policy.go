package retry

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// Decision is the outcome of evaluating a failure against a policy.
type Decision struct {
	Retry    bool
	Delay    time.Duration
	Category Category
}

// Policy wraps a definition's retry configuration. It is stateless: every
// decision is derived from the persisted retry count of the failing step.
type Policy struct {
	config models.RetryConfig
}

func NewPolicy(config models.RetryConfig) *Policy {
	return &Policy{config: config}
}

// IsRetryable reports whether failures of the given category may be retried.
func (p *Policy) IsRetryable(category Category) bool {
	return slices.Contains(p.config.RetryableErrorCategories, string(category))
}

// Decide evaluates a failure of the given category after retryCount previous retries.
func (p *Policy) Decide(category Category, retryCount int) Decision {
	if !p.IsRetryable(category) || retryCount >= p.config.MaxRetries {
		return Decision{Category: category}
	}

	return Decision{Retry: true, Delay: p.Delay(retryCount), Category: category}
}

// Delay returns min(initial_delay * backoff_multiplier^retryCount, max_delay).
// Jitter never takes the delay past max_delay.
func (p *Policy) Delay(retryCount int) time.Duration {
	multiplier := p.config.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	seconds := p.config.InitialDelay * math.Pow(multiplier, float64(retryCount))
	if p.config.MaxDelay > 0 && seconds > p.config.MaxDelay {
		seconds = p.config.MaxDelay
	}

	delay := time.Duration(seconds * float64(time.Second))

	if p.config.Jitter && delay > 0 {
		// up to 10% extra, never below the computed delay
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay)) //nolint:gosec // jitter does not need crypto rand
	}

	if maxDelay := time.Duration(p.config.MaxDelay * float64(time.Second)); p.config.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
