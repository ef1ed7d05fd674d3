package proto

import "testing"

func TestICMPTypeFromWireFallback(t *testing.T) {
	if got := ICMPTypeFromWire(200); got != ICMPOther {
		t.Fatalf("ICMPTypeFromWire(200) = %v, want ICMPOther", got)
	}
	if got := ICMPTypeFromWire(3); got != ICMPDestUnreachable {
		t.Fatalf("ICMPTypeFromWire(3) = %v, want ICMPDestUnreachable", got)
	}
}

func TestTCPOptionFromWire(t *testing.T) {
	opt, ok := TCPOptionFromWire(2)
	if !ok || opt != OptMSS {
		t.Fatalf("TCPOptionFromWire(2) = %v,%v want OptMSS,true", opt, ok)
	}
	opt, ok = TCPOptionFromWire(99)
	if !ok || opt != OptOther {
		t.Fatalf("TCPOptionFromWire(99) = %v,%v want OptOther,true", opt, ok)
	}
	_, ok = TCPOptionFromWire(0)
	if ok {
		t.Fatalf("TCPOptionFromWire(0) (END) should not be a set member")
	}
}

func TestOptionSet(t *testing.T) {
	var s OptionSet
	if !s.Empty() {
		t.Fatalf("zero-value set should be empty")
	}
	s = s.Add(OptMSS).Add(OptSACK)
	if s.Empty() {
		t.Fatalf("set should not be empty after Add")
	}
	if !s.Has(OptMSS) || !s.Has(OptSACK) {
		t.Fatalf("set should contain added options")
	}
	if s.Has(OptTimestamp) {
		t.Fatalf("set should not contain options never added")
	}
}
