// Package scamper defines the protocol-neutral probe reply record the
// broker produces from decoded daemon results.
package scamper

import (
	"fmt"
	"strings"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/proto"
)

// Statistics summarize the outcome of one probe series.
type Statistics struct {
	Replies int
	Loss    int
}

// PingReply is one decoded probe result, converted out of the
// daemon's binary record format into neutral fields.
type PingReply struct {
	Method     proto.ProbeMethod
	Saddr      ipaddr.Addr
	Daddr      ipaddr.Addr
	StartSec   int64
	StartUsec  int64
	NumProbes  int
	ProbeSize  int
	UserID     uint32
	TTL        uint8
	Wait       int
	Timeout    int
	Sport      uint16
	Dport      uint16
	PayloadHex string
	Flags      []string
	Stats      Statistics
}

// CSVRow renders the reply as one row of the scamper-responses output
// stream: "start sec|start usec|method|userid|num probes|saddr|daddr|sport|dport".
func (r PingReply) CSVRow() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%s|%d|%d|%s|%s|%d|%d\n",
		r.StartSec, r.StartUsec, r.Method, r.UserID, r.NumProbes,
		r.Saddr, r.Daddr, r.Sport, r.Dport)
	return b.String()
}
