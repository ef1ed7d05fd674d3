// Package packet classifies a captured IPv4 frame into a protocol-
// tagged Packet record.
package packet

import (
	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/iptime"
	"github.com/inetrg/spoki/internal/proto"
)

// EmbeddedUDPHeader is the UDP header embedded in an ICMP
// destination-unreachable payload, extracted when present.
type EmbeddedUDPHeader struct {
	Sport    uint16
	Dport    uint16
	Length   uint16
	Checksum uint16
}

// ICMPRecord is the protocol record for an ICMP packet.
type ICMPRecord struct {
	Type     proto.ICMPType
	Embedded *EmbeddedUDPHeader // non-nil only for destination_unreachable with a parseable embedded UDP header
}

// TCPRecord is the protocol record for a TCP packet.
type TCPRecord struct {
	Sport, Dport  uint16
	Seq, AckNum   uint32
	Syn, Ack, Rst bool
	Fin           bool
	Window        uint16
	Options       proto.OptionSet
	Payload       []byte
}

// UDPRecord is the protocol record for a UDP packet.
type UDPRecord struct {
	Sport, Dport uint16
	Payload      []byte
}

// Packet is the classified output of the packet classifier: common L3
// fields plus exactly one protocol-specific record.
type Packet struct {
	Saddr    ipaddr.Addr
	Daddr    ipaddr.Addr
	IPID     uint16
	TTL      uint8
	Observed iptime.Timestamp
	Proto    proto.Tag

	ICMP *ICMPRecord
	TCP  *TCPRecord
	UDP  *UDPRecord
}

// FiveTuple is the derived {proto, saddr, daddr, sport, dport} view of
// a packet. sport and dport are 0 when Proto is ICMP.
type FiveTuple struct {
	Proto        proto.Tag
	Saddr, Daddr ipaddr.Addr
	Sport, Dport uint16
}

// FiveTuple derives the five-tuple view of p.
func (p Packet) FiveTuple() FiveTuple {
	ft := FiveTuple{Proto: p.Proto, Saddr: p.Saddr, Daddr: p.Daddr}
	switch p.Proto {
	case proto.TCP:
		if p.TCP != nil {
			ft.Sport, ft.Dport = p.TCP.Sport, p.TCP.Dport
		}
	case proto.UDP:
		if p.UDP != nil {
			ft.Sport, ft.Dport = p.UDP.Sport, p.UDP.Dport
		}
	}
	return ft
}

// TargetKey is the derived {saddr, scanner_like} view of a packet.
type TargetKey struct {
	Saddr       ipaddr.Addr
	ScannerLike bool
}

// scannerIPID is the canonical IP-ID signature of an unsolicited
// scanner.
const scannerIPID = 54321

// scannerTTLThreshold is the TTL above which a sender is considered
// scanner-like regardless of protocol.
const scannerTTLThreshold = 200

// TargetKey derives the target-key view of p: scanner-like is true iff
// IPID equals the canonical scanner signature, OR TTL is improbably
// high, OR (for TCP) the observed option set is empty.
func (p Packet) TargetKey() TargetKey {
	scannerLike := p.IPID == scannerIPID || p.TTL > scannerTTLThreshold
	if p.Proto == proto.TCP && p.TCP != nil && p.TCP.Options.Empty() {
		scannerLike = true
	}
	return TargetKey{Saddr: p.Saddr, ScannerLike: scannerLike}
}
