package engine

import "time"

// Clock supplies record timestamps.
//
// The coordinator owns record time; clients never supply it. Tests inject a
// fixed or stepping clock (see testutil.FakeClock).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
