package broker

import (
	"bytes"
	"testing"
)

func TestUudecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x41},
		{0x00, 0x01, 0x02},
		[]byte("hello, world"),
		bytes.Repeat([]byte{0xAB}, 64),
	}
	for _, in := range cases {
		line := uuencodeLine(in)
		out, err := uudecodeLine(line)
		if err != nil {
			t.Fatalf("uudecodeLine(%q): %v", line, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip of %d bytes mismatched: got %x, want %x", len(in), out, in)
		}
	}
}

func TestUudecodeBoundsAt64Bytes(t *testing.T) {
	in := bytes.Repeat([]byte{0x5A}, 100)
	line := uuencodeLine(in)
	out, err := uudecodeLine(line)
	if err != nil {
		t.Fatalf("uudecodeLine: %v", err)
	}
	if len(out) > 64 {
		t.Fatalf("decoded %d bytes, want at most 64", len(out))
	}
	if !bytes.Equal(out, in[:64]) {
		t.Fatalf("decoded bytes do not match the first 64 input bytes")
	}
}

func TestUudecodeShorterEncodingsYieldShorterOutputs(t *testing.T) {
	for n := 0; n <= 64; n++ {
		in := bytes.Repeat([]byte{0x33}, n)
		out, err := uudecodeLine(uuencodeLine(in))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(out) != n {
			t.Fatalf("n=%d: decoded %d bytes", n, len(out))
		}
	}
}

func TestUudecodeTruncatedGroupFails(t *testing.T) {
	line := uuencodeLine([]byte("abcdef"))
	if _, err := uudecodeLine(line[:len(line)-2]); err == nil {
		t.Fatalf("expected an error for a truncated group")
	}
}

func TestDataLineConsumptionEqualsLineLengthPlusOne(t *testing.T) {
	var p LineParser
	p.Feed([]byte("D 10\n"))
	if p.DataLeft() != 10 {
		t.Fatalf("DataLeft = %d, want 10", p.DataLeft())
	}
	p.Feed([]byte("abcd\n"))
	if p.DataLeft() != 5 {
		t.Fatalf("DataLeft = %d after a 4-byte line, want 5", p.DataLeft())
	}
}
