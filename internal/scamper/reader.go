package scamper

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/proto"
)

// The daemon's native record format is external to this system; the
// broker only forwards reassembled bytes into a reader. PingReader is
// the bundled reader for the compact framing used by our fixture
// daemon and by tests: a fixed header followed by the probe payload.
//
// Layout, big-endian:
//
//	magic(1)=0x50 version(1)=1 method(1) ttl(1)
//	saddr(4) daddr(4) start_sec(4) start_usec(4) userid(4)
//	num_probes(1) replies(1) loss(1) flags(2)
//	probe_size(2) wait(1) timeout(1) sport(2) dport(2)
//	payload_len(2) payload(payload_len)
const (
	recordMagic   = 0x50
	recordVersion = 1
	headerLen     = 39
)

// flagNames are the flag bits a record may carry, lowest bit first.
var flagNames = []string{
	"v4rr", "spoof", "payload", "tsonly", "tsandaddr",
	"icmpsum", "dl", "tbt", "nosrc",
}

// PingReader buffers forwarded bytes and yields one PingReply per
// complete record. It implements the broker's PingDecoder.
type PingReader struct {
	buf bytes.Buffer
}

// NewPingReader returns an empty reader.
func NewPingReader() *PingReader {
	return &PingReader{}
}

// Feed appends p to the internal buffer and extracts every complete
// record. A malformed header poisons the stream and is returned as an
// error; the bad bytes stay buffered, so every later Feed on this
// reader returns the same error. The broker's Decoder logs the error
// and keeps running; it does not close or reconnect the connection.
func (r *PingReader) Feed(p []byte) ([]PingReply, error) {
	r.buf.Write(p)
	var out []PingReply
	for {
		data := r.buf.Bytes()
		if len(data) < headerLen {
			return out, nil
		}
		if data[0] != recordMagic || data[1] != recordVersion {
			return out, fmt.Errorf("scamper: bad record header %#x %#x", data[0], data[1])
		}
		payloadLen := int(binary.BigEndian.Uint16(data[37:39]))
		if len(data) < headerLen+payloadLen {
			return out, nil
		}
		out = append(out, parseRecord(data[:headerLen+payloadLen]))
		r.buf.Next(headerLen + payloadLen)
	}
}

func parseRecord(rec []byte) PingReply {
	var saddr, daddr [4]byte
	copy(saddr[:], rec[4:8])
	copy(daddr[:], rec[8:12])

	flagsBits := binary.BigEndian.Uint16(rec[27:29])
	var flags []string
	for i, name := range flagNames {
		if flagsBits&(1<<i) != 0 {
			flags = append(flags, name)
		}
	}

	return PingReply{
		Method:     proto.ProbeMethod(rec[2]),
		TTL:        rec[3],
		Saddr:      ipaddr.FromBytes(saddr),
		Daddr:      ipaddr.FromBytes(daddr),
		StartSec:   int64(binary.BigEndian.Uint32(rec[12:16])),
		StartUsec:  int64(binary.BigEndian.Uint32(rec[16:20])),
		UserID:     binary.BigEndian.Uint32(rec[20:24]),
		NumProbes:  int(rec[24]),
		Stats:      Statistics{Replies: int(rec[25]), Loss: int(rec[26])},
		Flags:      flags,
		ProbeSize:  int(binary.BigEndian.Uint16(rec[29:31])),
		Wait:       int(rec[31]),
		Timeout:    int(rec[32]),
		Sport:      binary.BigEndian.Uint16(rec[33:35]),
		Dport:      binary.BigEndian.Uint16(rec[35:37]),
		PayloadHex: hex.EncodeToString(rec[headerLen:]),
	}
}

// AppendRecord serializes r into the reader's framing, for fixtures
// and tests exercising the decode path end to end.
func AppendRecord(dst []byte, r PingReply) []byte {
	payload, _ := hex.DecodeString(r.PayloadHex)
	var flagsBits uint16
	for i, name := range flagNames {
		for _, f := range r.Flags {
			if f == name {
				flagsBits |= 1 << i
			}
		}
	}

	sb := r.Saddr.Bytes()
	db := r.Daddr.Bytes()
	dst = append(dst, recordMagic, recordVersion, byte(r.Method), r.TTL)
	dst = append(dst, sb[:]...)
	dst = append(dst, db[:]...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(r.StartSec))
	dst = binary.BigEndian.AppendUint32(dst, uint32(r.StartUsec))
	dst = binary.BigEndian.AppendUint32(dst, r.UserID)
	dst = append(dst, byte(r.NumProbes), byte(r.Stats.Replies), byte(r.Stats.Loss))
	dst = binary.BigEndian.AppendUint16(dst, flagsBits)
	dst = binary.BigEndian.AppendUint16(dst, uint16(r.ProbeSize))
	dst = append(dst, byte(r.Wait), byte(r.Timeout))
	dst = binary.BigEndian.AppendUint16(dst, r.Sport)
	dst = binary.BigEndian.AppendUint16(dst, r.Dport)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, payload...)
	return dst
}
