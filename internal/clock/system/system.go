// Package system provides the wall clock used to stamp freshness fields.
package system

import "time"

// Clock implements ingest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to millisecond precision, so the
// RFC 3339 freshness string and the epoch-millisecond field always agree.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
