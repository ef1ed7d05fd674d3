package probe

import (
	"strings"
	"testing"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/proto"
)

func TestMakeCommandTCP(t *testing.T) {
	daddr, _ := ipaddr.Parse("5.6.7.8")
	cmd := MakeCommand(Request{
		UserID:    7,
		Method:    proto.ProbeTCPSynAck,
		Daddr:     daddr,
		Sport:     1337,
		Dport:     80,
		Anum:      123881,
		NumProbes: 1,
	})
	want := "ping -P tcp-synack -U 7 -c 1 -F 1337 -d 80 -A 123881 5.6.7.8\n"
	if cmd != want {
		t.Fatalf("command = %q, want %q", cmd, want)
	}
}

func TestMakeCommandICMPOmitsPorts(t *testing.T) {
	daddr, _ := ipaddr.Parse("5.6.7.8")
	cmd := MakeCommand(Request{UserID: 1, Method: proto.ProbeICMP, Daddr: daddr, NumProbes: 5})
	if strings.Contains(cmd, "-F") || strings.Contains(cmd, "-d") {
		t.Fatalf("icmp command should not carry port arguments: %q", cmd)
	}
	if !strings.HasSuffix(cmd, "\n") {
		t.Fatalf("command must be newline terminated: %q", cmd)
	}
}

func TestMakeCommandUDPCarriesPortsOnly(t *testing.T) {
	daddr, _ := ipaddr.Parse("5.6.7.8")
	cmd := MakeCommand(Request{UserID: 2, Method: proto.ProbeUDP, Daddr: daddr, Sport: 9, Dport: 53, NumProbes: 5})
	want := "ping -P udp -U 2 -c 5 -F 9 -d 53 5.6.7.8\n"
	if cmd != want {
		t.Fatalf("command = %q, want %q", cmd, want)
	}
}
