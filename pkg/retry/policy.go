// Package retry provides the retry policy and executor used by the
// Graph API client. Transient failures are retried with exponential
// backoff and bounded jitter; permanent failures take exactly one
// attempt.
package retry

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// baseDelay anchors the exponential schedule. With the default backoff
// factor 0.3 the raw schedule is 0.3s, 0.6s, 1.2s, ...
const baseDelay = time.Second

// Policy configures retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BackoffFactor scales the exponential delay:
	// delay = base * BackoffFactor * 2^attempt.
	BackoffFactor float64

	// MaxDelay caps any single delay, including provider hints.
	MaxDelay time.Duration

	// Jitter is the fraction of the computed delay added as randomness,
	// in [0, 1). Additive jitter keeps the schedule monotonically
	// non-decreasing.
	Jitter float64
}

// DefaultPolicy returns the stock policy: 3 retries, factor 0.3, 60s
// cap, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BackoffFactor: 0.3,
		MaxDelay:      60 * time.Second,
		Jitter:        0.1,
	}
}

// Delay computes the backoff before retry number attempt (0-based),
// before jitter. retryAfter is a provider-supplied hint (zero when
// absent); the larger of the hint and the computed backoff wins, then
// the cap applies.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 0.3
	}
	d := time.Duration(float64(baseDelay) * factor * math.Pow(2, float64(attempt)))
	if retryAfter > d {
		d = retryAfter
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ParseRetryAfter parses a Retry-After header, supporting both
// delay-seconds and HTTP-date forms. Absent or unparsable headers yield
// zero.
func ParseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
