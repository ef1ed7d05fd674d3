package collector

import (
	"bytes"
	"strings"
	"testing"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/iptime"
	"github.com/inetrg/spoki/internal/packet"
	"github.com/inetrg/spoki/internal/proto"
)

func TestAddCrossingOneHourBoundaryHandsOffExactlyOneBuffer(t *testing.T) {
	w := &MemoryWriter{}
	c := NewSized(w, "raw", RawCSVHeader, 1024, 512)

	base := int64(1600000000)
	firstHour := (base / 3600) * 3600
	c.Add(Record{UnixTS: base, Line: []byte("a\n")})
	c.Add(Record{UnixTS: base + 1, Line: []byte("b\n")})
	c.Add(Record{UnixTS: firstHour + 3600, Line: []byte("c\n")})

	bufs := w.Buffers()
	if len(bufs) != 1 {
		t.Fatalf("handed off %d buffers, want exactly 1", len(bufs))
	}
	if bufs[0].UnixTS != firstHour {
		t.Fatalf("handed-off buffer tagged %d, want the earlier hour %d", bufs[0].UnixTS, firstHour)
	}
	if c.Hour() != firstHour+3600 {
		t.Fatalf("open buffer represents hour %d, want the later hour %d", c.Hour(), firstHour+3600)
	}
}

func TestAddHandsOffWhenThresholdCrossed(t *testing.T) {
	w := &MemoryWriter{}
	c := NewSized(w, "raw", RawCSVHeader, 64, 8)

	ts := int64(1600000000)
	c.Add(Record{UnixTS: ts, Line: []byte("0123\n")})
	if len(w.Buffers()) != 0 {
		t.Fatalf("buffer handed off below threshold")
	}
	c.Add(Record{UnixTS: ts + 1, Line: []byte("4567\n")})

	bufs := w.Buffers()
	if len(bufs) != 1 {
		t.Fatalf("handed off %d buffers, want 1 after crossing the threshold", len(bufs))
	}
	if !bytes.Equal(bufs[0].Data, []byte("0123\n4567\n")) {
		t.Fatalf("handed-off data = %q", bufs[0].Data)
	}
	if bufs[0].UnixTS != (ts/3600)*3600 {
		t.Fatalf("buffer tagged %d, want hour %d", bufs[0].UnixTS, (ts/3600)*3600)
	}
}

func TestFlushEmitsPendingRows(t *testing.T) {
	w := &MemoryWriter{}
	c := NewSized(w, "raw", RawCSVHeader, 1024, 512)
	c.Add(Record{UnixTS: 1600000000, Line: []byte("x\n")})
	c.Flush()
	if len(w.Buffers()) != 1 {
		t.Fatalf("flush did not hand off the open buffer")
	}
	c.Flush()
	if len(w.Buffers()) != 1 {
		t.Fatalf("flushing an empty buffer must not hand anything off")
	}
}

func TestRawEventRowTCP(t *testing.T) {
	saddr, _ := ipaddr.Parse("192.0.2.1")
	daddr, _ := ipaddr.Parse("198.51.100.9")
	e := RawEvent{
		Pkt: packet.Packet{
			Saddr:    saddr,
			Daddr:    daddr,
			IPID:     54321,
			TTL:      250,
			Observed: iptime.FromMillis(1600000000123),
			Proto:    proto.TCP,
			TCP: &packet.TCPRecord{
				Sport:   4444,
				Dport:   80,
				Seq:     7,
				AckNum:  9,
				Syn:     true,
				Window:  1024,
				Payload: []byte{0xDE, 0xAD},
			},
		},
		Probed:    true,
		Method:    proto.ProbeTCPSynAck,
		UserID:    42,
		ProbeAnum: 8,
		NumProbes: 1,
	}

	row := string(RawEventRow(e))
	want := "1600000000123|192.0.2.1|198.51.100.9|54321|250|tcp|4444|80|9|7|0|dead|true|false|false|false|1024|true|tcp_synack|42|8|0|1\n"
	if row != want {
		t.Fatalf("row =\n%q\nwant\n%q", row, want)
	}
}

func TestRawEventRowICMPHasZeroPorts(t *testing.T) {
	saddr, _ := ipaddr.Parse("192.0.2.1")
	daddr, _ := ipaddr.Parse("198.51.100.9")
	e := RawEvent{
		Pkt: packet.Packet{
			Saddr:    saddr,
			Daddr:    daddr,
			Observed: iptime.FromMillis(1000),
			Proto:    proto.ICMP,
			ICMP:     &packet.ICMPRecord{Type: proto.ICMPEchoRequest},
		},
	}
	row := string(RawEventRow(e))
	if !strings.HasPrefix(row, "1000|192.0.2.1|198.51.100.9|0|0|icmp|0|0|") {
		t.Fatalf("unexpected icmp row prefix: %q", row)
	}
}

func TestTraceStatsRow(t *testing.T) {
	row := string(TraceStatsRow(1600000000, TraceStats{
		Accepted: 1, Filtered: 2, Captured: 3, Errors: 4, Dropped: 5, Missing: 6,
	}))
	if row != "1600000000|1|2|3|4|5|6\n" {
		t.Fatalf("row = %q", row)
	}
}

func TestHeadersMatchOutputSchemas(t *testing.T) {
	for _, h := range []string{RawCSVHeader, ScamperCSVHeader, TraceCSVHeader} {
		if !strings.HasSuffix(h, "\n") {
			t.Fatalf("header %q must be newline terminated", h)
		}
	}
	if got := strings.Count(RawCSVHeader, "|"); got != 22 {
		t.Fatalf("raw header has %d separators, want 22", got)
	}
	if got := strings.Count(ScamperCSVHeader, "|"); got != 8 {
		t.Fatalf("scamper header has %d separators, want 8", got)
	}
	if got := strings.Count(TraceCSVHeader, "|"); got != 6 {
		t.Fatalf("trace header has %d separators, want 6", got)
	}
}
