package session

import (
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/bidlink/marketplace-core/internal/config"
)

// RetryPolicy bounds transient-failure retries of idempotent requests.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // delay cap
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add 0-20% random jitter
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  config.RetryMaxAttempts,
		InitialDelay: config.RetryInitialDelay,
		MaxDelay:     config.RetryMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NoRetry sends every request exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Delay returns the wait before retry number n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(n))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}

	return time.Duration(delay)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// shouldRetry reports whether a finished attempt is worth repeating.
// Only transport errors and 5xx qualify; 4xx never does.
func shouldRetry(resp *Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}
