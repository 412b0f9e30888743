package pipeline

import (
	"math"
	"time"
)

// Clock returns the current time. Tests pin it.
type Clock func() time.Time

// FromNow is the signed distance from now to t, truncated to milliseconds.
// Negative means t is in the past.
func FromNow(t, now time.Time) time.Duration {
	return time.Duration(t.UnixMilli()-now.UnixMilli()) * time.Millisecond
}

// Quantize rounds d to the nearest whole unit, halves rounding up.
func Quantize(d, unit time.Duration) int {
	if unit <= 0 {
		return 0
	}
	return int(math.Floor(float64(d)/float64(unit) + 0.5))
}

// ttlUntil is FromNow clamped at zero, which callers read as "no TTL".
func ttlUntil(t, now time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return max(FromNow(t, now), 0)
}
