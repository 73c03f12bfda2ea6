// Package system provides the wall clock that stamps job submission, start and finish times.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC so stored jobs serialize identically
// whatever the host time zone is.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (*Clock) Now() time.Time {
	return time.Now().UTC()
}
