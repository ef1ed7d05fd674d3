package collector

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/inetrg/spoki/internal/packet"
	"github.com/inetrg/spoki/internal/proto"
	"github.com/inetrg/spoki/internal/scamper"
)

// CSV headers of the three hour-rotated output streams.
const (
	RawCSVHeader = "ts|saddr|daddr|ipid|ttl|proto|sport|dport|anum|snum|options|payload|syn|ack|rst|fin|window size|probed|method|userid|probe anum|probe snum|num probes\n"

	ScamperCSVHeader = "start sec|start usec|method|userid|num probes|saddr|daddr|sport|dport\n"

	TraceCSVHeader = "ts|accepted|filtered|captured|errors|dropped|missing\n"
)

// RawEvent is one row of the raw packet events stream: the classified
// packet plus the probe decision attached to it.
type RawEvent struct {
	Pkt       packet.Packet
	Probed    bool
	Method    proto.ProbeMethod
	UserID    uint32
	ProbeAnum uint32
	ProbeSnum uint32
	NumProbes int
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RawEventRow renders one raw packet event as a CSV row. Numeric
// fields are decimal, addresses dotted-quad, payloads lowercase hex.
func RawEventRow(e RawEvent) []byte {
	p := e.Pkt
	var sport, dport uint16
	var anum, snum uint32
	var options uint8
	var payload []byte
	var syn, ack, rst, fin bool
	var window uint16

	switch p.Proto {
	case proto.TCP:
		if t := p.TCP; t != nil {
			sport, dport = t.Sport, t.Dport
			anum, snum = t.AckNum, t.Seq
			options = uint8(t.Options)
			payload = t.Payload
			syn, ack, rst, fin = t.Syn, t.Ack, t.Rst, t.Fin
			window = t.Window
		}
	case proto.UDP:
		if u := p.UDP; u != nil {
			sport, dport = u.Sport, u.Dport
			payload = u.Payload
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%d|%d|%s|%d|%d|%d|%d|%d|%s|%s|%s|%s|%s|%d|%s|%s|%d|%d|%d|%d\n",
		p.Observed.Millis(), p.Saddr, p.Daddr, p.IPID, p.TTL, p.Proto,
		sport, dport, anum, snum, options, hex.EncodeToString(payload),
		boolField(syn), boolField(ack), boolField(rst), boolField(fin), window,
		boolField(e.Probed), e.Method, e.UserID, e.ProbeAnum, e.ProbeSnum, e.NumProbes)
	return []byte(b.String())
}

// ScamperResponseRow renders one decoded probe reply as a CSV row.
func ScamperResponseRow(r scamper.PingReply) []byte {
	return []byte(r.CSVRow())
}

// TraceStats are the per-capture counters emitted on the trace
// statistics stream.
type TraceStats struct {
	Accepted uint64
	Filtered uint64
	Captured uint64
	Errors   uint64
	Dropped  uint64
	Missing  uint64
}

// TraceStatsRow renders one statistics sample as a CSV row.
func TraceStatsRow(unixTS int64, s TraceStats) []byte {
	return []byte(fmt.Sprintf("%d|%d|%d|%d|%d|%d|%d\n",
		unixTS, s.Accepted, s.Filtered, s.Captured, s.Errors, s.Dropped, s.Missing))
}
