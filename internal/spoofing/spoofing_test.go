package spoofing

import (
	"testing"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/iptime"
)

func addr23(t *testing.T) ipaddr.Addr {
	t.Helper()
	return ipaddr.FromBits(23)
}

func TestSpoofingMergeScenario(t *testing.T) {
	s := NewStore()
	a := addr23(t)

	s.MergeEntry(a, Entry{TS: iptime.FromMillis(1), Consistent: true})
	s.MergeEntry(a, Entry{TS: iptime.FromMillis(1), Consistent: false})
	got := s.Get(a)
	want := Entry{TS: iptime.FromMillis(1), Consistent: false}
	if got != want {
		t.Fatalf("after tie merge: got %+v, want %+v", got, want)
	}

	s.MergeEntry(a, Entry{TS: iptime.FromMillis(3), Consistent: true})
	got = s.Get(a)
	want = Entry{TS: iptime.FromMillis(3), Consistent: true}
	if got != want {
		t.Fatalf("after newer merge: got %+v, want %+v", got, want)
	}

	s.MergeEntry(a, Entry{TS: iptime.FromMillis(1), Consistent: false})
	got = s.Get(a)
	if got != want {
		t.Fatalf("stale merge must be a no-op: got %+v, want %+v", got, want)
	}
}

func TestMergeIdempotence(t *testing.T) {
	s := NewStore()
	a := addr23(t)
	e := Entry{TS: iptime.FromMillis(10), Consistent: true}
	s.MergeEntry(a, e)
	after1 := s.Get(a)
	s.MergeEntry(a, e)
	after2 := s.Get(a)
	if after1 != after2 {
		t.Fatalf("merge must be idempotent: %+v != %+v", after1, after2)
	}
}

func TestMissReturnsSentinelWithoutMaterializing(t *testing.T) {
	s := NewStore()
	a := addr23(t)
	got := s.Get(a)
	if got != defaultEntry {
		t.Fatalf("miss should return sentinel, got %+v", got)
	}
	if s.Contains(a) {
		t.Fatalf("a lookup-only miss must not materialize the key")
	}
	if s.Size() != 0 {
		t.Fatalf("store size should remain 0 after a miss, got %d", s.Size())
	}
}

func TestRemoveIf(t *testing.T) {
	s := NewStore()
	a := ipaddr.FromBits(1)
	b := ipaddr.FromBits(2)
	s.MergeEntry(a, Entry{TS: iptime.FromMillis(1), Consistent: true})
	s.MergeEntry(b, Entry{TS: iptime.FromMillis(1), Consistent: false})

	s.RemoveIf(func(addr ipaddr.Addr, e Entry) bool { return !e.Consistent })
	if s.Contains(b) {
		t.Fatalf("RemoveIf should have removed b")
	}
	if !s.Contains(a) {
		t.Fatalf("RemoveIf should have kept a")
	}
}

func TestRotatingStoreEviction(t *testing.T) {
	r := NewRotatingStore()
	addrA := ipaddr.FromBits(1)
	addrB := ipaddr.FromBits(2)

	r.Insert(addrA, Entry{TS: iptime.FromMillis(1), Consistent: true})
	r.Rotate(2)
	r.Insert(addrB, Entry{TS: iptime.FromMillis(2), Consistent: true})
	r.Rotate(2)

	if r.Get(addrA) != defaultEntry {
		t.Fatalf("addrA should have aged out, got %+v", r.Get(addrA))
	}
	got := r.Get(addrB)
	want := Entry{TS: iptime.FromMillis(2), Consistent: true}
	if got != want {
		t.Fatalf("addrB entry = %+v, want %+v", got, want)
	}
	if r.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", r.Size())
	}
}

func TestRotatingStoreAlwaysHasAGeneration(t *testing.T) {
	r := NewRotatingStore()
	if r.Generations() != 1 {
		t.Fatalf("fresh rotating store should have 1 generation, got %d", r.Generations())
	}
	r.Rotate(3)
	r.Rotate(3)
	r.Rotate(3)
	if r.Generations() != 3 {
		t.Fatalf("Generations() = %d, want 3 after repeated rotation with max=3", r.Generations())
	}
}

func TestRotatingStoreNewestGenerationWins(t *testing.T) {
	r := NewRotatingStore()
	a := ipaddr.FromBits(7)
	r.Insert(a, Entry{TS: iptime.FromMillis(1), Consistent: false})
	r.Rotate(4)
	// Newer generation 0 gets a fresher entry for the same address.
	r.Insert(a, Entry{TS: iptime.FromMillis(99), Consistent: true})

	got := r.Get(a)
	want := Entry{TS: iptime.FromMillis(99), Consistent: true}
	if got != want {
		t.Fatalf("newest generation should win: got %+v, want %+v", got, want)
	}
}

func TestRotatingStoreInsertOverwritesActiveGeneration(t *testing.T) {
	r := NewRotatingStore()
	a := ipaddr.FromBits(3)
	r.Insert(a, Entry{TS: iptime.FromMillis(10), Consistent: true})
	// An older entry still replaces the active generation's value;
	// inserts do not apply the merge rule.
	r.Insert(a, Entry{TS: iptime.FromMillis(1), Consistent: false})

	got := r.Get(a)
	want := Entry{TS: iptime.FromMillis(1), Consistent: false}
	if got != want {
		t.Fatalf("insert should overwrite: got %+v, want %+v", got, want)
	}
}
