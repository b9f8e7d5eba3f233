package forwarder

import (
	"math"
	"time"
)

// Config controls attempts and backoff
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// BaseDelay is the wait before the second attempt
	BaseDelay time.Duration
	// Backoff multiplies the delay after every further failure
	Backoff float64
	// Timeout bounds a single outbound request
	Timeout time.Duration
}

// DefaultConfig returns 3 attempts, 5 minutes base delay doubling each time and a 30s timeout
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Minute,
		Backoff:     2,
		Timeout:     30 * time.Second,
	}
}

// Delay returns the wait after a failed attempt n: BaseDelay * Backoff^(n-1)
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(float64(c.BaseDelay) * math.Pow(c.Backoff, float64(n-1)))
}
