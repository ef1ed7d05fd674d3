// Package proto defines the closed-set tagged values used across the
// capture-to-probe pipeline: transport protocol tags, ICMP types, TCP
// observed-option kinds, and probe methods.
package proto

// Tag is the closed set of transport protocols a packet can be
// classified as.
type Tag uint8

const (
	Other Tag = iota
	ICMP
	TCP
	UDP
)

func (t Tag) String() string {
	switch t {
	case ICMP:
		return "icmp"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "other"
	}
}

// ICMPType is the closed enumeration of ICMP message types this system
// cares about, with a fallback "other" variant absorbing unknown wire
// values.
type ICMPType uint8

const (
	ICMPEchoReply           ICMPType = 0
	ICMPDestUnreachable     ICMPType = 3
	ICMPSourceQuench        ICMPType = 4
	ICMPRedirect            ICMPType = 5
	ICMPEchoRequest         ICMPType = 8
	ICMPTimeExceeded        ICMPType = 11
	ICMPParameterProblem    ICMPType = 12
	ICMPTimestampRequest    ICMPType = 13
	ICMPTimestampReply      ICMPType = 14
	ICMPOther               ICMPType = 255
)

// ICMPTypeFromWire coerces a raw ICMP type byte into the closed
// enumeration, falling back to ICMPOther for unrecognized values.
func ICMPTypeFromWire(raw byte) ICMPType {
	switch raw {
	case 0, 3, 4, 5, 8, 11, 12, 13, 14:
		return ICMPType(raw)
	default:
		return ICMPOther
	}
}

func (t ICMPType) String() string {
	switch t {
	case ICMPEchoReply:
		return "echo_reply"
	case ICMPDestUnreachable:
		return "destination_unreachable"
	case ICMPSourceQuench:
		return "source_quench"
	case ICMPRedirect:
		return "redirect"
	case ICMPEchoRequest:
		return "echo_request"
	case ICMPTimeExceeded:
		return "time_exceeded"
	case ICMPParameterProblem:
		return "parameter_problem"
	case ICMPTimestampRequest:
		return "timestamp_request"
	case ICMPTimestampReply:
		return "timestamp_reply"
	default:
		return "other"
	}
}

// TCPOption is a member of the closed set of TCP options this system
// records the presence of, without decoding option payload bodies.
type TCPOption uint8

const (
	OptMSS TCPOption = iota
	OptWindowScale
	OptSACKPermitted
	OptSACK
	OptTimestamp
	OptOther
)

// TCP option kind numbers, as laid out on the wire (RFC 793/1323/2018).
const (
	wireOptEnd          = 0
	wireOptNOP          = 1
	wireOptMSS          = 2
	wireOptWindowScale  = 3
	wireOptSACKPermit   = 4
	wireOptSACK         = 5
	wireOptTimestamp    = 8
)

// TCPOptionFromWire maps a raw TCP option kind byte into the closed
// set, falling back to OptOther for unrecognized kinds. The NOP/END
// padding options are not members of the set and are signaled via ok=false.
func TCPOptionFromWire(kind byte) (opt TCPOption, ok bool) {
	switch kind {
	case wireOptMSS:
		return OptMSS, true
	case wireOptWindowScale:
		return OptWindowScale, true
	case wireOptSACKPermit:
		return OptSACKPermitted, true
	case wireOptSACK:
		return OptSACK, true
	case wireOptTimestamp:
		return OptTimestamp, true
	case wireOptEnd, wireOptNOP:
		return 0, false
	default:
		return OptOther, true
	}
}

// OptionSet is a closed-set membership test over TCPOption, recording
// which option kinds were observed without decoding their payloads.
type OptionSet uint8

// Add marks opt as observed.
func (s OptionSet) Add(opt TCPOption) OptionSet { return s | (1 << opt) }

// Has reports whether opt was observed.
func (s OptionSet) Has(opt TCPOption) bool { return s&(1<<opt) != 0 }

// Empty reports whether no options were observed.
func (s OptionSet) Empty() bool { return s == 0 }

// ProbeMethod is the closed set of probing methods the broker can
// dispatch.
type ProbeMethod uint8

const (
	ProbeTCPSynAck ProbeMethod = iota
	ProbeTCPRst
	ProbeUDP
	ProbeICMP
)

func (m ProbeMethod) String() string {
	switch m {
	case ProbeTCPSynAck:
		return "tcp_synack"
	case ProbeTCPRst:
		return "tcp_rst"
	case ProbeUDP:
		return "udp"
	case ProbeICMP:
		return "icmp"
	default:
		return "unknown"
	}
}
