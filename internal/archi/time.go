package archi

import "time"

// Instant is a monotonic wall-clock reading, independent of the
// simulated Time the scheduler and exporters use for task start/end
// values. It is opaque outside this package: callers obtain one from a
// Clock and pass it back to Elapsed.
//
// Grounded on original_source/libspider/common/Time.h's
// time::time_point (a std::chrono::steady_clock::time_point) and its
// time::now()/time::duration::nanoseconds(first, second) pair.
type Instant struct{ t time.Time }

// Clock abstracts wall-clock sampling so the runtime platform's timing
// of job execution can be driven by a deterministic fake in tests
// instead of real elapsed time.
type Clock interface {
	Now() Instant
}

// RealClock samples the process's monotonic clock (the reading Go's
// runtime attaches to every time.Time value obtained from time.Now).
type RealClock struct{}

// Now returns the current instant.
func (RealClock) Now() Instant { return Instant{time.Now()} }

// Elapsed returns the Time between two instants taken from the same
// Clock, in nanoseconds — the Go equivalent of Time.h's
// time::duration::nanoseconds(first, second).
func Elapsed(first, second Instant) Time {
	d := second.t.Sub(first.t)
	if d < 0 {
		d = 0
	}
	return Time(d.Nanoseconds())
}

// Duration converts a simulated or measured Time back into a
// time.Duration for formatting (both are nanosecond-denominated).
func (t Time) Duration() time.Duration { return time.Duration(t) }
