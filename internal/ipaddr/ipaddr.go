// Package ipaddr implements a 32-bit IPv4 address and subnet type,
// with byte-sequence and 32-bit integer encodings.
package ipaddr

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Addr is an opaque 32-bit IPv4 address. Equality and ordering are by
// integer value.
type Addr struct {
	bits uint32
}

// FromBits builds an Addr from a 32-bit host-order integer.
func FromBits(bits uint32) Addr { return Addr{bits: bits} }

// FromBytes builds an Addr from 4 network-order bytes.
func FromBytes(b [4]byte) Addr {
	return Addr{bits: binary.BigEndian.Uint32(b[:])}
}

// FromNetIP builds an Addr from a net.IP, which must have a valid IPv4
// representation.
func FromNetIP(ip net.IP) (Addr, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Addr{}, fmt.Errorf("ipaddr: %s is not an IPv4 address", ip)
	}
	var b [4]byte
	copy(b[:], v4)
	return FromBytes(b), nil
}

// Parse parses a dotted-quad string into an Addr.
func Parse(s string) (Addr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return Addr{}, fmt.Errorf("ipaddr: invalid address %q", s)
	}
	return FromNetIP(ip)
}

// Bits returns the 32-bit host-order integer representation.
func (a Addr) Bits() uint32 { return a.bits }

// Bytes returns the 4 network-order bytes.
func (a Addr) Bytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.bits)
	return b
}

// NetIP returns the net.IP representation (network order, 4 bytes).
func (a Addr) NetIP() net.IP {
	b := a.Bytes()
	return net.IPv4(b[0], b[1], b[2], b[3])
}

// String renders the address in dotted-quad form.
func (a Addr) String() string { return a.NetIP().String() }

// Less orders addresses by integer value.
func (a Addr) Less(other Addr) bool { return a.bits < other.bits }

// Equal compares addresses by integer value.
func (a Addr) Equal(other Addr) bool { return a.bits == other.bits }

// LastByte returns the least-significant (last, network-order) byte of
// the address — used by the shard router's byte-mod routing rule.
func (a Addr) LastByte() byte { return byte(a.bits) }

// IsMulticast reports whether a falls in the 224.0.0.0/4 range.
func (a Addr) IsMulticast() bool { return a.NetIP().IsMulticast() }

// IsLoopback reports whether a falls in the 127.0.0.0/8 range.
func (a Addr) IsLoopback() bool { return a.NetIP().IsLoopback() }

// Subnet is an IPv4 address paired with a prefix length in [0, 32].
type Subnet struct {
	base   Addr
	prefix int
	mask   uint32
}

// NewSubnet builds a Subnet from a base address and a prefix length.
// The prefix must be in [0, 32].
func NewSubnet(base Addr, prefix int) (Subnet, error) {
	if prefix < 0 || prefix > 32 {
		return Subnet{}, fmt.Errorf("ipaddr: invalid prefix length %d", prefix)
	}
	var mask uint32
	if prefix == 0 {
		mask = 0
	} else {
		mask = ^uint32(0) << (32 - prefix)
	}
	return Subnet{base: Addr{bits: base.bits & mask}, prefix: prefix, mask: mask}, nil
}

// ParseCIDR parses a CIDR string (e.g. "10.0.0.0/8") into a Subnet.
func ParseCIDR(cidr string) (Subnet, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Subnet{}, fmt.Errorf("ipaddr: %w", err)
	}
	addr, err := FromNetIP(ip)
	if err != nil {
		return Subnet{}, err
	}
	ones, _ := ipnet.Mask.Size()
	return NewSubnet(addr, ones)
}

// Contains reports whether addr falls within the subnet, by prefix
// comparison.
func (s Subnet) Contains(addr Addr) bool {
	return addr.bits&s.mask == s.base.bits
}

// Prefix returns the subnet's prefix length.
func (s Subnet) Prefix() int { return s.prefix }

// Base returns the subnet's base (network) address.
func (s Subnet) Base() Addr { return s.base }

// String renders the subnet in CIDR notation.
func (s Subnet) String() string { return fmt.Sprintf("%s/%d", s.base, s.prefix) }
