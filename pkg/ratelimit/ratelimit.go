package ratelimit

import "time"

// Reason identifies why an admission decision was not a plain allow.
// Reasons are data, not errors: expected limit-exceeded outcomes are
// returned in result structs and never as Go errors.
type Reason string

const (
	// ReasonNone marks an allowed decision.
	ReasonNone Reason = ""

	// ReasonRateExceeded marks a short-period rate limit rejection.
	ReasonRateExceeded Reason = "rate_exceeded"

	// ReasonQuotaExceeded marks a period quota rejection.
	ReasonQuotaExceeded Reason = "quota_exceeded"

	// ReasonBurstExceeded marks a rejection beyond burst headroom.
	ReasonBurstExceeded Reason = "burst_exceeded"

	// ReasonInsufficientTokens marks a token bucket rejection.
	ReasonInsufficientTokens Reason = "insufficient_tokens"

	// ReasonOverflow marks a leaky bucket backlog overflow.
	ReasonOverflow Reason = "overflow"

	// ReasonBanned marks a rejection of a banned subject.
	ReasonBanned Reason = "banned"

	// ReasonThrottled marks a load-based throttle rejection.
	ReasonThrottled Reason = "throttled"

	// ReasonBackpressure marks a global backpressure rejection.
	ReasonBackpressure Reason = "backpressure"

	// ReasonHardThrottle marks a hard throttle rule firing.
	ReasonHardThrottle Reason = "hard_throttle"

	// ReasonCircuitOpen marks a rejection due to an open circuit.
	ReasonCircuitOpen Reason = "circuit_open"

	// ReasonNotFound marks an operation against an unknown key.
	ReasonNotFound Reason = "not_found"
)

// Algorithm names an admission algorithm.
type Algorithm string

const (
	// TokenBucket selects the continuous-refill token bucket.
	TokenBucket Algorithm = "token_bucket"

	// SlidingWindow selects the sub-window counting limiter.
	SlidingWindow Algorithm = "sliding_window"

	// LeakyBucket selects the constant-drain backlog limiter.
	LeakyBucket Algorithm = "leaky_bucket"
)

// Valid reports whether a is a known algorithm name.
func (a Algorithm) Valid() bool {
	switch a {
	case TokenBucket, SlidingWindow, LeakyBucket:
		return true
	}
	return false
}

// Key builds the composite admission key for a subject/endpoint pair.
// Each algorithm keeps its own keyed store; the same key may exist
// independently in several stores.
func Key(subject, endpoint string) string {
	if endpoint == "" {
		endpoint = "default"
	}
	return subject + ":" + endpoint
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
