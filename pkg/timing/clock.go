// Package timing implements the two mutually exclusive timing-protocol
// responders a session may start after SETUP phase 1 (spec §4.8): an NTP
// responder for ordinary receivers, and a PTP master for HomePod-family
// receivers that refuse to play without one.
package timing

import "time"

// Clock is the shared monotonic time base the PTP/NTP responders and the
// audio pacer (C7) read from. It is published once at session start and
// is read-only thereafter (spec §5 "keys are published once").
type Clock struct {
	epoch time.Time
}

// NewClock anchors a Clock at the current wall-clock instant.
func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// Now returns the elapsed monotonic duration since the clock's epoch.
func (c *Clock) Now() time.Duration {
	return time.Since(c.epoch)
}

// WallNow returns the wall-clock instant corresponding to Now(), for
// protocols (NTP, PTP) that need an absolute timestamp on the wire.
func (c *Clock) WallNow() time.Time {
	return c.epoch.Add(c.Now())
}
