// Package spoofing implements the per-sender spoofing-belief store: a
// flat map from address to belief entry, and an age-based rotating
// sequence of flat stores.
package spoofing

import "github.com/inetrg/spoki/internal/iptime"

// Entry records the timestamp of the most recent spoofing assessment
// for an address and whether that assessment found the sender
// consistent with a genuine (non-spoofed) client.
//
// Consistent == true means "not observed to be spoofed"; false means
// unknown or suspected.
type Entry struct {
	TS         iptime.Timestamp
	Consistent bool
}

// defaultEntry is the sentinel returned for a miss; it is never
// materialized into the store itself.
var defaultEntry = Entry{TS: iptime.Epoch, Consistent: false}

// Merge resolves a conflict between an existing entry (old) and an
// incoming one (new) for the same address: the entry with the larger
// timestamp wins; on a tie, the resulting Consistent is old AND new
// (failure is sticky within a tick).
func Merge(old, new Entry) Entry {
	if new.TS.After(old.TS) {
		return new
	}
	if old.TS.After(new.TS) {
		return old
	}
	return Entry{TS: old.TS, Consistent: old.Consistent && new.Consistent}
}
