// Package iptime provides a millisecond-resolution wall-clock timestamp
// used throughout the capture-to-probe pipeline.
package iptime

import "time"

// Timestamp is a wall-clock time point with millisecond resolution,
// originating at the system epoch.
type Timestamp struct {
	millis int64
}

// Epoch is the well-known zero timestamp, the default for the spoofing
// store sentinel entry.
var Epoch = Timestamp{}

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into a Timestamp, truncating to
// millisecond resolution.
func FromTime(t time.Time) Timestamp {
	return Timestamp{millis: t.UnixMilli()}
}

// FromMillis builds a Timestamp from milliseconds since the epoch.
func FromMillis(ms int64) Timestamp {
	return Timestamp{millis: ms}
}

// FromSecUsec builds a Timestamp from a (seconds, microseconds) pair,
// the representation used by capture metadata (e.g. libtrace/pcap
// timeval structures).
func FromSecUsec(sec, usec int64) Timestamp {
	return Timestamp{millis: sec*1000 + usec/1000}
}

// SecUsec returns the (seconds, microseconds) pair for interop with
// capture metadata.
func (t Timestamp) SecUsec() (sec, usec int64) {
	sec = t.millis / 1000
	usec = (t.millis % 1000) * 1000
	return sec, usec
}

// Millis returns milliseconds since the epoch.
func (t Timestamp) Millis() int64 { return t.millis }

// Unix returns the Unix timestamp in whole seconds (floor).
func (t Timestamp) Unix() int64 { return t.millis / 1000 }

// Time converts back to a time.Time.
func (t Timestamp) Time() time.Time { return time.UnixMilli(t.millis) }

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool { return t.millis < other.millis }

// After reports whether t is strictly later than other.
func (t Timestamp) After(other Timestamp) bool { return t.millis > other.millis }

// Equal reports whether t and other represent the same instant.
func (t Timestamp) Equal(other Timestamp) bool { return t.millis == other.millis }

// HourBucket returns the Unix timestamp of the start of the hour t falls
// into, used by the buffered collector to detect hour-boundary crossings.
func (t Timestamp) HourBucket() int64 {
	return (t.Unix() / 3600) * 3600
}
