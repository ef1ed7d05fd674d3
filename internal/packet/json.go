package packet

import (
	"encoding/json"

	"github.com/inetrg/spoki/internal/proto"
)

// jsonPacket is the external JSON shape: common fields plus one
// nested object keyed by the protocol name.
type jsonPacket struct {
	Saddr    string          `json:"saddr"`
	Daddr    string          `json:"daddr"`
	IPID     uint16          `json:"ipid"`
	TTL      uint8           `json:"ttl"`
	Observed int64           `json:"observed"`
	Protocol string          `json:"protocol"`
	ICMP     *jsonICMP       `json:"icmp,omitempty"`
	TCP      *jsonTCP        `json:"tcp,omitempty"`
	UDP      *jsonUDP        `json:"udp,omitempty"`
}

type jsonEmbeddedUDP struct {
	Sport    uint16 `json:"sport"`
	Dport    uint16 `json:"dport"`
	Length   uint16 `json:"length"`
	Checksum uint16 `json:"chksum"`
}

type jsonICMP struct {
	Type     string           `json:"type"`
	Embedded *jsonEmbeddedUDP `json:"unreachable,omitempty"`
}

type jsonTCP struct {
	Sport   uint16   `json:"sport"`
	Dport   uint16   `json:"dport"`
	Snum    uint32   `json:"snum"`
	Anum    uint32   `json:"anum"`
	Syn     bool     `json:"syn"`
	Ack     bool     `json:"ack"`
	Rst     bool     `json:"rst"`
	Fin     bool     `json:"fin"`
	Window  uint16   `json:"window size"`
	Options []string `json:"options"`
	Payload []byte   `json:"payload"`
}

type jsonUDP struct {
	Sport   uint16 `json:"sport"`
	Dport   uint16 `json:"dport"`
	Payload []byte `json:"payload"`
}

var optionNames = []struct {
	opt  proto.TCPOption
	name string
}{
	{proto.OptMSS, "mss"},
	{proto.OptWindowScale, "window_scale"},
	{proto.OptSACKPermitted, "sack_permitted"},
	{proto.OptSACK, "sack"},
	{proto.OptTimestamp, "timestamp"},
	{proto.OptOther, "other"},
}

// MarshalJSON serializes p with the external key set: saddr, daddr,
// ipid, ttl, observed (milliseconds since epoch), protocol, and a
// nested object under the protocol name.
func (p Packet) MarshalJSON() ([]byte, error) {
	jp := jsonPacket{
		Saddr:    p.Saddr.String(),
		Daddr:    p.Daddr.String(),
		IPID:     p.IPID,
		TTL:      p.TTL,
		Observed: p.Observed.Millis(),
		Protocol: p.Proto.String(),
	}
	switch p.Proto {
	case proto.ICMP:
		if p.ICMP != nil {
			ji := &jsonICMP{Type: p.ICMP.Type.String()}
			if e := p.ICMP.Embedded; e != nil {
				ji.Embedded = &jsonEmbeddedUDP{
					Sport: e.Sport, Dport: e.Dport,
					Length: e.Length, Checksum: e.Checksum,
				}
			}
			jp.ICMP = ji
		}
	case proto.TCP:
		if t := p.TCP; t != nil {
			opts := []string{}
			for _, o := range optionNames {
				if t.Options.Has(o.opt) {
					opts = append(opts, o.name)
				}
			}
			jp.TCP = &jsonTCP{
				Sport: t.Sport, Dport: t.Dport,
				Snum: t.Seq, Anum: t.AckNum,
				Syn: t.Syn, Ack: t.Ack, Rst: t.Rst, Fin: t.Fin,
				Window: t.Window, Options: opts, Payload: t.Payload,
			}
		}
	case proto.UDP:
		if u := p.UDP; u != nil {
			jp.UDP = &jsonUDP{Sport: u.Sport, Dport: u.Dport, Payload: u.Payload}
		}
	}
	return json.Marshal(jp)
}

// UnmarshalJSON is declared for symmetry but not implemented;
// deserializing packets is a programming error.
func (p *Packet) UnmarshalJSON([]byte) error {
	panic("packet: UnmarshalJSON is not implemented")
}
