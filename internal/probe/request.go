// Package probe defines the probe request record handed from a shard
// scheduler to the probe broker, and its serialization into the
// command grammar the external probing daemon consumes.
package probe

import (
	"fmt"
	"strings"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/proto"
)

// Request describes one probe the broker should dispatch. UserID is
// assigned by the broker from its monotonic counter when the request
// is sent; callers leave it zero.
type Request struct {
	UserID    uint32
	Method    proto.ProbeMethod
	Saddr     ipaddr.Addr
	Daddr     ipaddr.Addr
	Sport     uint16
	Dport     uint16
	Anum      uint32
	NumProbes int
}

// methodName maps a probe method to the daemon's -P argument.
func methodName(m proto.ProbeMethod) string {
	switch m {
	case proto.ProbeTCPSynAck:
		return "tcp-synack"
	case proto.ProbeTCPRst:
		return "tcp-rst"
	case proto.ProbeUDP:
		return "udp"
	case proto.ProbeICMP:
		return "icmp-echo"
	default:
		return "icmp-echo"
	}
}

// MakeCommand serializes r into one newline-terminated daemon command.
// TCP methods carry the acknowledgement number to embed; UDP carries
// ports only; ICMP needs neither.
func MakeCommand(r Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ping -P %s -U %d -c %d", methodName(r.Method), r.UserID, r.NumProbes)
	switch r.Method {
	case proto.ProbeTCPSynAck, proto.ProbeTCPRst:
		fmt.Fprintf(&b, " -F %d -d %d -A %d", r.Sport, r.Dport, r.Anum)
	case proto.ProbeUDP:
		fmt.Fprintf(&b, " -F %d -d %d", r.Sport, r.Dport)
	}
	fmt.Fprintf(&b, " %s\n", r.Daddr)
	return b.String()
}
