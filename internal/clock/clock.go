// Package clock abstracts the passage of time behind an interface so the
// acquisition loop's tick cadence, the refresher's interval, and spot
// expiry can be driven by a fake clock in tests instead of real sleeps.
package clock

import "time"

// Clock is the time source every CORE component depends on instead of the
// time package directly: the acquisition survey loop, the background spot
// refresher, and expiry checks all take one.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock, backed by the standard library.
type Real struct{}

// Now reports the current time in UTC, matching the UTC timestamps spot
// records are stamped with.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After is time.After, exposed through the Clock interface.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks the calling goroutine for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
