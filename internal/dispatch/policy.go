package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides how often and how long to wait between attempts
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`
	EnableJitter   bool          `json:"enable_jitter" yaml:"enable_jitter"`
	JitterFactor   float64       `json:"jitter_factor" yaml:"jitter_factor"` // 0.0 to 1.0
}

// NewDefaultRetryPolicy creates a retry policy with sensible defaults
func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		BackoffFactor:  2.0,
		EnableJitter:   false,
		JitterFactor:   0.3,
	}
}

// NewCustomRetryPolicy creates a retry policy without jitter
func NewCustomRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, backoffFactor float64) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     maxRetries,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		BackoffFactor:  backoffFactor,
		JitterFactor:   0.3,
	}
}

// ShouldRetry reports whether another attempt is allowed after the given
// number of attempts has been made
func (p *RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts-1 < p.MaxRetries
}

// Backoff returns the wait before the retry that follows attempt number
// attempt: InitialBackoff * BackoffFactor^(attempt-1), capped at MaxBackoff
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := time.Duration(float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1)))
	if p.MaxBackoff > 0 && (backoff > p.MaxBackoff || backoff < 0) {
		backoff = p.MaxBackoff
	}

	if p.EnableJitter {
		jitter := rand.Float64() * p.JitterFactor
		backoff = time.Duration(float64(backoff) * (1 + jitter))
	}
	return backoff
}
