package dispatch

import "time"

// DefaultRetryCap bounds the exponential backoff between resend attempts.
const DefaultRetryCap = 300 * time.Second

// RetryGate decides when an unconfirmed pending entry may be sent again.
// After attempt n the entry waits min(cap, 2^n) seconds; an entry that has
// never been sent is always ready.
type RetryGate struct {
	cap time.Duration
}

// NewRetryGate creates a gate with the given backoff cap. A non-positive
// cap falls back to DefaultRetryCap.
func NewRetryGate(cap time.Duration) *RetryGate {
	if cap <= 0 {
		cap = DefaultRetryCap
	}
	return &RetryGate{cap: cap}
}

// Ready reports whether p may be sent now.
func (g *RetryGate) Ready(p *Pending, now time.Time) bool {
	if p.LastSentAt == nil {
		return true
	}
	return now.Sub(*p.LastSentAt) >= g.Delay(p.Attempts)
}

// Delay returns the backoff after the given attempt count.
func (g *RetryGate) Delay(attempts int) time.Duration {
	// 2^n seconds, computed without overflow for absurd attempt counts.
	if attempts >= 30 {
		return g.cap
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > g.cap {
		return g.cap
	}
	return d
}
