// Package utils provides utility functions and types.
package utils

import "time"

// Clock provides an interface for time operations, making code testable.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NowUnixNano returns the current time as nanoseconds since the Unix epoch.
	NowUnixNano() uint64

	// Since returns the duration since the given time.
	Since(t time.Time) time.Duration

	// Sleep pauses the current goroutine for the specified duration.
	Sleep(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock instance.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// NowUnixNano returns the current time as nanoseconds since the Unix epoch.
func (c *RealClock) NowUnixNano() uint64 {
	return uint64(time.Now().UnixNano())
}

// Since returns the duration since the given time.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep pauses the current goroutine for the specified duration.
func (c *RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// FakeClock implements Clock with a manually advanced time, for tests.
type FakeClock struct {
	current time.Time
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	return c.current
}

// NowUnixNano returns the fake current time in nanoseconds.
func (c *FakeClock) NowUnixNano() uint64 {
	return uint64(c.current.UnixNano())
}

// Since returns the duration since the given time.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.current.Sub(t)
}

// Sleep advances the fake clock without blocking.
func (c *FakeClock) Sleep(d time.Duration) {
	c.current = c.current.Add(d)
}

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
