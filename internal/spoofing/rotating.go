package spoofing

import "github.com/inetrg/spoki/internal/ipaddr"

// RotatingStore is an ordered sequence of generation-indexed flat
// stores; generation 0 is the newest ("active") generation. Insertion
// always writes to generation 0. Lookup scans generation 0 first, so
// the newest generation wins when an address appears in several.
type RotatingStore struct {
	generations []*Store
}

// NewRotatingStore builds a rotating store with a single empty active
// generation, satisfying the invariant that a rotating store always
// has at least one generation.
func NewRotatingStore() *RotatingStore {
	return &RotatingStore{generations: []*Store{NewStore()}}
}

// Insert writes e under addr into generation 0, overwriting any entry
// already there; the timestamp-merge rule applies only to flat-store
// merges, not rotating-store inserts.
func (r *RotatingStore) Insert(addr ipaddr.Addr, e Entry) {
	r.generations[0].put(addr, e)
}

// Contains reports whether any generation holds an entry for addr.
func (r *RotatingStore) Contains(addr ipaddr.Addr) bool {
	for _, gen := range r.generations {
		if gen.Contains(addr) {
			return true
		}
	}
	return false
}

// Get returns the first (youngest-generation) entry found for addr, or
// the sentinel default if no generation holds one.
func (r *RotatingStore) Get(addr ipaddr.Addr) Entry {
	for _, gen := range r.generations {
		if e, ok := gen.data[addr]; ok {
			return e
		}
	}
	return defaultEntry
}

// Size returns the sum of per-generation sizes. A key present in
// several generations counts once per occurrence.
func (r *RotatingStore) Size() int {
	total := 0
	for _, gen := range r.generations {
		total += gen.Size()
	}
	return total
}

// Generations returns the current number of generations.
func (r *RotatingStore) Generations() int { return len(r.generations) }

// Rotate prepends a new empty generation at index 0 and truncates to
// at most maxGenerations generations, dropping the oldest first.
func (r *RotatingStore) Rotate(maxGenerations int) {
	r.generations = append([]*Store{NewStore()}, r.generations...)
	if len(r.generations) > maxGenerations {
		r.generations = r.generations[:maxGenerations]
	}
}
