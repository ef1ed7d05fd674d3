package packet

import (
	"encoding/binary"
	"errors"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/iptime"
	"github.com/inetrg/spoki/internal/proto"
)

// Reasons a frame is rejected by the classifier instead of producing a
// Packet.
var (
	ErrNotIPv4        = errors.New("packet: not an IPv4 frame")
	ErrTruncated      = errors.New("packet: frame truncated before L4 header")
	ErrFilteredSource = errors.New("packet: source address filtered")
	ErrFilteredDest   = errors.New("packet: destination address filtered")
)

const (
	ethertypeIPv4 = 0x0800
	ethertypeIPv6 = 0x86DD

	protoICMP = 1
	protoTCP  = 6
	protoUDP  = 17

	minIPv4HeaderLen = 20
	minTCPHeaderLen  = 20
	minUDPHeaderLen  = 8
	minICMPHeaderLen = 8
)

// Filters holds the source/destination address filtering
// configuration applied during classification, when enabled.
type Filters struct {
	Enabled   bool
	Local     ipaddr.Subnet
	Blacklist func(ipaddr.Addr) bool
}

// Frame is a captured link-layer frame handed to the classifier by the
// external parallel-capture library. Ethertype selects the L3
// interpretation; L3 begins at Payload[L3Offset:].
type Frame struct {
	Ethertype uint16
	Payload   []byte
	L3Offset  int
	Observed  iptime.Timestamp
}

// inBlacklist reports whether addr is blacklisted, tolerating a nil
// predicate.
func (f Filters) inBlacklist(addr ipaddr.Addr) bool {
	return f.Blacklist != nil && f.Blacklist(addr)
}

// Classify extracts a Packet from a captured frame, or returns a
// rejection reason.
func Classify(frame Frame, filters Filters) (Packet, error) {
	if frame.Ethertype == ethertypeIPv6 {
		return Packet{}, ErrNotIPv4
	}
	if frame.Ethertype != ethertypeIPv4 {
		return Packet{}, ErrNotIPv4
	}

	l3 := frame.Payload[frame.L3Offset:]
	if len(l3) < minIPv4HeaderLen {
		return Packet{}, ErrTruncated
	}

	ihl := int(l3[0]&0x0f) * 4
	if ihl < minIPv4HeaderLen || len(l3) < ihl {
		return Packet{}, ErrTruncated
	}
	// Bytes past the IPv4 total length (link-layer padding) are not part
	// of the datagram, so L4 payloads end at the reported length.
	if total := int(binary.BigEndian.Uint16(l3[2:4])); total >= ihl && total < len(l3) {
		l3 = l3[:total]
	}

	ipid := binary.BigEndian.Uint16(l3[4:6])
	ttl := l3[8]
	ipProto := l3[9]
	saddr := ipaddr.FromBits(binary.BigEndian.Uint32(l3[12:16]))
	daddr := ipaddr.FromBits(binary.BigEndian.Uint32(l3[16:20]))

	if filters.Enabled {
		if filters.Local.Contains(saddr) || filters.inBlacklist(saddr) {
			return Packet{}, ErrFilteredSource
		}
		if !filters.Local.Contains(daddr) || filters.inBlacklist(daddr) ||
			daddr.IsMulticast() || daddr.IsLoopback() {
			return Packet{}, ErrFilteredDest
		}
	}

	l4 := l3[ihl:]

	p := Packet{
		Saddr:    saddr,
		Daddr:    daddr,
		IPID:     ipid,
		TTL:      ttl,
		Observed: frame.Observed,
	}

	switch ipProto {
	case protoICMP:
		rec, err := parseICMP(l4)
		if err != nil {
			return Packet{}, err
		}
		p.Proto = proto.ICMP
		p.ICMP = &rec
	case protoTCP:
		rec, err := parseTCP(l4)
		if err != nil {
			return Packet{}, err
		}
		p.Proto = proto.TCP
		p.TCP = &rec
	case protoUDP:
		rec, err := parseUDP(l4)
		if err != nil {
			return Packet{}, err
		}
		p.Proto = proto.UDP
		p.UDP = &rec
	default:
		p.Proto = proto.Other
	}

	return p, nil
}

// parseICMP extracts the ICMP type and, for destination-unreachable
// messages, the embedded IPv4+UDP header carried in the ICMP payload.
func parseICMP(l4 []byte) (ICMPRecord, error) {
	if len(l4) < minICMPHeaderLen {
		return ICMPRecord{}, ErrTruncated
	}
	rec := ICMPRecord{Type: proto.ICMPTypeFromWire(l4[0])}
	if rec.Type != proto.ICMPDestUnreachable {
		return rec, nil
	}
	// ICMP header (8 bytes) is followed by as much of the original
	// datagram as fits; we need an IPv4 header (>=20) plus a UDP header
	// (8), i.e. >= 28 bytes.
	inner := l4[minICMPHeaderLen:]
	if len(inner) < 28 {
		return rec, nil
	}
	innerIHL := int(inner[0]&0x0f) * 4
	if innerIHL < minIPv4HeaderLen || len(inner) < innerIHL+minUDPHeaderLen {
		return rec, nil
	}
	innerUDP := inner[innerIHL:]
	rec.Embedded = &EmbeddedUDPHeader{
		Sport:    binary.BigEndian.Uint16(innerUDP[0:2]),
		Dport:    binary.BigEndian.Uint16(innerUDP[2:4]),
		Length:   binary.BigEndian.Uint16(innerUDP[4:6]),
		Checksum: binary.BigEndian.Uint16(innerUDP[6:8]),
	}
	return rec, nil
}

// parseTCP extracts ports, sequence numbers, flags, window, the
// observed-option set, and the payload. Classify ends l4 at the IPv4
// total length, so the copied payload is the lesser of the captured
// bytes and the reported payload length.
func parseTCP(l4 []byte) (TCPRecord, error) {
	if len(l4) < minTCPHeaderLen {
		return TCPRecord{}, ErrTruncated
	}
	dataOffset := int(l4[12]>>4) * 4
	if dataOffset < minTCPHeaderLen || len(l4) < dataOffset {
		return TCPRecord{}, ErrTruncated
	}
	flags := l4[13]
	rec := TCPRecord{
		Sport:  binary.BigEndian.Uint16(l4[0:2]),
		Dport:  binary.BigEndian.Uint16(l4[2:4]),
		Seq:    binary.BigEndian.Uint32(l4[4:8]),
		AckNum: binary.BigEndian.Uint32(l4[8:12]),
		Fin:    flags&0x01 != 0,
		Syn:    flags&0x02 != 0,
		Rst:    flags&0x04 != 0,
		Ack:    flags&0x10 != 0,
		Window: binary.BigEndian.Uint16(l4[14:16]),
	}
	rec.Options = parseTCPOptions(l4[minTCPHeaderLen:dataOffset])
	rec.Payload = append([]byte(nil), l4[dataOffset:]...)
	return rec, nil
}

// parseTCPOptions walks the TCP option list in the header padding,
// recording which members of the closed option set occur without
// decoding option payload bodies.
func parseTCPOptions(opts []byte) proto.OptionSet {
	var set proto.OptionSet
	i := 0
	for i < len(opts) {
		kind := opts[i]
		if kind == 0 { // end of options list
			break
		}
		if kind == 1 { // NOP, single byte, no length field
			i++
			continue
		}
		if i+1 >= len(opts) {
			break
		}
		optLen := int(opts[i+1])
		if optLen < 2 || i+optLen > len(opts) {
			break
		}
		if member, ok := proto.TCPOptionFromWire(kind); ok {
			set = set.Add(member)
		}
		i += optLen
	}
	return set
}

// parseUDP extracts ports and payload under the same length rule as
// TCP.
func parseUDP(l4 []byte) (UDPRecord, error) {
	if len(l4) < minUDPHeaderLen {
		return UDPRecord{}, ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(l4[4:6]))
	payloadEnd := len(l4)
	if length >= minUDPHeaderLen && length <= len(l4) {
		payloadEnd = length
	}
	rec := UDPRecord{
		Sport:   binary.BigEndian.Uint16(l4[0:2]),
		Dport:   binary.BigEndian.Uint16(l4[2:4]),
		Payload: append([]byte(nil), l4[minUDPHeaderLen:payloadEnd]...),
	}
	return rec, nil
}
