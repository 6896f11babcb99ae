package authcore

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC timestamp.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock constructs a wall-clock backed Clock.
func NewSystemClock() Clock {
	return SystemClock{}
}
