package hashring

import (
	"encoding/binary"
	"hash/crc32"
)

// castagnoliTable implements CRC-32C: polynomial 0x1EDC6F41, reflected
// input and output, initial and final XOR 0xFFFFFFFF.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// HashBytes hashes a byte slice directly into the ring's 32-bit key
// space, used for strings and raw byte buffers.
func HashBytes(b []byte) uint32 {
	return crc32.Checksum(b, castagnoliTable)
}

// HashUint32 hashes an integer key as its little-endian byte
// representation.
func HashUint32(v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return HashBytes(b[:])
}

// HashUint64 hashes an integer key as its little-endian byte
// representation.
func HashUint64(v uint64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return HashBytes(b[:])
}

// HashString hashes a string directly (its bytes, without a trailing
// NUL), used for string-valued ring entries.
func HashString(s string) uint32 {
	return HashBytes([]byte(s))
}

// HashIPv4 hashes an IPv4 address as its 4 network-order bytes.
func HashIPv4(b [4]byte) uint32 {
	return HashBytes(b[:])
}
