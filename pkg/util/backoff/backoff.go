package backoff

import (
	"math/rand"
	"time"
)

// Policy describes how a failed operation is retried: the wait before
// each new attempt and the total number of attempts allowed.
type Policy struct {
	// Delay is the wait before a new attempt
	Delay time.Duration
	// MaxAttempts is the total number of attempts, the first one included
	MaxAttempts int
	// Jitter randomizes the delays to avoid thundering herds
	Jitter bool
}

// Default is the policy used for soft failures of the certificates service:
// three attempts, one minute apart.
var Default = Policy{
	Delay:       60 * time.Second,
	MaxAttempts: 3,
}

// Fixed returns a policy with a constant delay between attempts
func Fixed(delay time.Duration, maxAttempts int) Policy {
	return Policy{Delay: delay, MaxAttempts: maxAttempts}
}

// Duration returns the wait before the next attempt. When Jitter is set
// the delay is randomized.
func (p Policy) Duration() time.Duration {
	if !p.Jitter {
		return p.Delay
	}
	return time.Duration(jitter(p.Delay.Milliseconds())) * time.Millisecond
}

// Exhausted returns true when the given number of attempts already made
// reaches the policy cap
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// jitter returns a random integer uniformly distributed in the range
// [0.5 * millis .. 1.5 * millis]
func jitter(millis int64) int64 {
	if millis <= 0 {
		return 0
	}

	return millis/2 + rand.Int63n(millis)
}
