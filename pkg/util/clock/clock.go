package clock

import "time"

// Clock knows how to get the current time.
// It can be used to fake out timing for testing.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system time
type Real struct{}

// Now returns the current time
func (Real) Now() time.Time { return time.Now() }

// Test is a Clock stopped at a fixed time
type Test struct {
	now time.Time
}

// NewTest returns a Test clock stopped at t
func NewTest(t time.Time) *Test { return &Test{t} }

// Now returns the current time
func (tc *Test) Now() time.Time { return tc.now }
