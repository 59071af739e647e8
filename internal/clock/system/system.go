// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements task.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time. The monotonic reading is kept so elapsed
// comparisons survive wall clock jumps.
func (Clock) Now() time.Time {
	return time.Now()
}
