package spoofing

import "github.com/inetrg/spoki/internal/ipaddr"

// Store is a flat mapping from IPv4 address to spoofing Entry. A miss
// returns the well-known sentinel default without materializing the
// key, matching the invariant that a Store never contains the sentinel
// explicitly.
type Store struct {
	data map[ipaddr.Addr]Entry
}

// NewStore builds an empty flat spoofing store.
func NewStore() *Store {
	return &Store{data: make(map[ipaddr.Addr]Entry)}
}

// Merge folds every entry of other into this store via the scalar
// Merge rule.
func (s *Store) Merge(other *Store) {
	for addr, e := range other.data {
		s.MergeEntry(addr, e)
	}
}

// put writes e under addr unconditionally, bypassing the merge rule.
// Used by the rotating store, whose insert is a plain overwrite of
// the active generation.
func (s *Store) put(addr ipaddr.Addr, e Entry) {
	s.data[addr] = e
}

// MergeEntry merges a single entry into this store under addr, using
// the conflict resolution rule defined by Merge.
func (s *Store) MergeEntry(addr ipaddr.Addr, e Entry) {
	if existing, ok := s.data[addr]; ok {
		s.data[addr] = Merge(existing, e)
		return
	}
	s.data[addr] = e
}

// Contains reports whether the store holds an entry for addr.
func (s *Store) Contains(addr ipaddr.Addr) bool {
	_, ok := s.data[addr]
	return ok
}

// Get returns the entry for addr, or the sentinel default on a miss.
// It never mutates the store.
func (s *Store) Get(addr ipaddr.Addr) Entry {
	if e, ok := s.data[addr]; ok {
		return e
	}
	return defaultEntry
}

// Size returns the number of entries in the store.
func (s *Store) Size() int { return len(s.data) }

// RemoveIf erases every entry for which pred returns true.
func (s *Store) RemoveIf(pred func(addr ipaddr.Addr, e Entry) bool) {
	for addr, e := range s.data {
		if pred(addr, e) {
			delete(s.data, addr)
		}
	}
}
