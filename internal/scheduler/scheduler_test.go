package scheduler

import (
	"testing"

	"github.com/inetrg/spoki/internal/config"
	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/packet"
	"github.com/inetrg/spoki/internal/proto"
)

func synPacket(t *testing.T, saddr ipaddr.Addr) packet.Packet {
	t.Helper()
	return packet.Packet{
		Saddr: saddr,
		Daddr: ipaddr.FromBits(1),
		Proto: proto.TCP,
		TCP:   &packet.TCPRecord{Sport: 5000, Dport: 443, Syn: true},
	}
}

func TestEvaluateAdmitsFirstRequestForANewSource(t *testing.T) {
	s := New(config.DefaultCacheDefaults(), 1000)
	p := synPacket(t, ipaddr.FromBits(42))

	req, ok := s.Evaluate(p)
	if !ok {
		t.Fatalf("expected the first probe for a new source to be admitted")
	}
	if req.Method != proto.ProbeTCPSynAck {
		t.Fatalf("expected a SYN packet to map to ProbeTCPSynAck, got %v", req.Method)
	}
	if req.NumProbes != config.DefaultCacheDefaults().TCPSynProbes {
		t.Fatalf("NumProbes = %d, want %d", req.NumProbes, config.DefaultCacheDefaults().TCPSynProbes)
	}
}

func TestEvaluateSuppressesDuplicateWithinTimeout(t *testing.T) {
	s := New(config.DefaultCacheDefaults(), 1000)
	p := synPacket(t, ipaddr.FromBits(42))

	if _, ok := s.Evaluate(p); !ok {
		t.Fatalf("expected first evaluation to admit")
	}
	if _, ok := s.Evaluate(p); ok {
		t.Fatalf("expected a repeat probe for the same source within the timeout to be suppressed")
	}
}

func TestEvaluateRejectsProtocolWithNoProbeMethod(t *testing.T) {
	s := New(config.DefaultCacheDefaults(), 1000)
	p := packet.Packet{Saddr: ipaddr.FromBits(1), Proto: proto.Other}
	if _, ok := s.Evaluate(p); ok {
		t.Fatalf("expected Other-protocol packets to never be scheduled")
	}
}

func TestEvaluateRespectsRateLimit(t *testing.T) {
	s := New(config.DefaultCacheDefaults(), 1)
	admitted := 0
	for i := 0; i < 5; i++ {
		p := synPacket(t, ipaddr.FromBits(uint32(100+i)))
		if _, ok := s.Evaluate(p); ok {
			admitted++
		}
	}
	if admitted == 5 {
		t.Fatalf("expected the rate limiter to reject at least one of 5 rapid-fire distinct-source requests at rate=1/s")
	}
}

func TestEvaluateDistinctMethodsForSameSourceAreIndependent(t *testing.T) {
	s := New(config.DefaultCacheDefaults(), 1000)
	saddr := ipaddr.FromBits(7)

	tcpPkt := synPacket(t, saddr)
	if _, ok := s.Evaluate(tcpPkt); !ok {
		t.Fatalf("expected TCP evaluation to admit")
	}

	icmpPkt := packet.Packet{Saddr: saddr, Proto: proto.ICMP, ICMP: &packet.ICMPRecord{}}
	if _, ok := s.Evaluate(icmpPkt); !ok {
		t.Fatalf("expected an ICMP probe for the same source to be independent of the TCP dedup key")
	}
}
