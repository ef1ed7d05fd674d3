// Package rawprobe crafts and transmits arbitrary-source-address IPv4
// UDP datagrams over an IP_HDRINCL raw socket.
package rawprobe

import (
	"encoding/binary"

	"github.com/inetrg/spoki/internal/ipaddr"
)

const (
	ipHeaderLen  = 20
	udpHeaderLen = 8

	ipVersionIHL = 0x45 // version=4, IHL=5
	ipTOS        = 0
	ipID         = 1337
	ipFlagsDF    = 0x4000
	ipTTL        = 64
	ipProtoUDP   = 17

	// defaultPayloadByte is used when a request carries no payload and no
	// per-port table entry applies.
	defaultPayloadByte = 0x0A
)

// Request describes one datagram to craft and send.
type Request struct {
	Saddr   ipaddr.Addr
	Daddr   ipaddr.Addr
	Sport   uint16
	Dport   uint16
	Payload []byte
}

// PayloadTable looks up a per-destination-port payload override. A nil
// table, or a miss, falls through to the request's own payload (reflect
// mode) or the single default byte.
type PayloadTable map[uint16][]byte

// resolvePayload picks the datagram payload: a per-port table entry,
// else the request's own payload, else the default single byte.
func resolvePayload(table PayloadTable, req Request) []byte {
	if table != nil {
		if p, ok := table[req.Dport]; ok {
			return p
		}
	}
	if len(req.Payload) > 0 {
		return req.Payload
	}
	return []byte{defaultPayloadByte}
}

// Checksum16 sums the header as 16-bit little-endian words into a
// 32-bit accumulator, folds the upper 16 bits into the lower 16 bits
// until the upper half is zero, and returns the one's complement of
// the result.
func Checksum16(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(header[i]) | uint32(header[i+1])<<8
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// putChecksum16 writes a checksum value computed by Checksum16 back
// into the header in the same little-endian word order the checksum
// was computed over, at byte offset off.
func putChecksum16(header []byte, off int, v uint16) {
	header[off] = byte(v)
	header[off+1] = byte(v >> 8)
}

// Build crafts the full IPv4+UDP frame for req.
func Build(req Request, table PayloadTable) []byte {
	payload := resolvePayload(table, req)
	frame := make([]byte, ipHeaderLen+udpHeaderLen+len(payload))

	ip := frame[:ipHeaderLen]
	ip[0] = ipVersionIHL
	ip[1] = ipTOS
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(frame)))
	binary.BigEndian.PutUint16(ip[4:6], ipID)
	binary.BigEndian.PutUint16(ip[6:8], ipFlagsDF)
	ip[8] = ipTTL
	ip[9] = ipProtoUDP
	sb := req.Saddr.Bytes()
	db := req.Daddr.Bytes()
	copy(ip[12:16], sb[:])
	copy(ip[16:20], db[:])
	putChecksum16(ip, 10, Checksum16(ip))

	udp := frame[ipHeaderLen : ipHeaderLen+udpHeaderLen]
	binary.BigEndian.PutUint16(udp[0:2], req.Sport)
	binary.BigEndian.PutUint16(udp[2:4], req.Dport)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(payload)))
	udp[6], udp[7] = 0, 0 // checksum not computed

	copy(frame[ipHeaderLen+udpHeaderLen:], payload)
	return frame
}
