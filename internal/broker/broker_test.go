package broker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/probe"
	"github.com/inetrg/spoki/internal/proto"
	"github.com/inetrg/spoki/internal/scamper"
)

type stubHandler struct {
	probed chan uint32
}

func (h *stubHandler) Probed(req probe.Request) {
	h.probed <- req.UserID
}

type recordingSink struct {
	mu      sync.Mutex
	replies []scamper.PingReply
}

func (s *recordingSink) ScamperResponse(r scamper.PingReply) {
	s.mu.Lock()
	s.replies = append(s.replies, r)
	s.mu.Unlock()
}

// startBroker wires a broker to one end of a net.Pipe and returns the
// daemon-side end plus a cancel for the run loop.
func startBroker(t *testing.T, sink ReplySink) (*Broker, net.Conn, context.CancelFunc) {
	t.Helper()
	client, server := net.Pipe()
	b := New(sink, func() PingDecoder { return scamper.NewPingReader() })
	b.dial = func(host string, port uint16) (net.Conn, error) { return client, nil }

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	if err := b.Connect("daemon", 31337); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return b, server, cancel
}

func testRequest(dport uint16) probe.Request {
	saddr, _ := ipaddr.Parse("1.2.3.8")
	daddr, _ := ipaddr.Parse("5.6.7.8")
	return probe.Request{
		Method:    proto.ProbeTCPSynAck,
		Saddr:     saddr,
		Daddr:     daddr,
		Sport:     1337,
		Dport:     dport,
		Anum:      123881,
		NumProbes: 1,
	}
}

func readLine(t *testing.T, r *bufio.Reader, c net.Conn) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading daemon side: %v", err)
	}
	return line
}

func TestBrokerAttachesOnConnect(t *testing.T) {
	_, server, cancel := startBroker(t, nil)
	defer cancel()
	r := bufio.NewReader(server)
	if line := readLine(t, r, server); line != "attach\n" {
		t.Fatalf("first command = %q, want attach", line)
	}
}

func TestBrokerDispatchHonorsCredits(t *testing.T) {
	b, server, cancel := startBroker(t, nil)
	defer cancel()
	r := bufio.NewReader(server)
	readLine(t, r, server) // attach

	h := &stubHandler{probed: make(chan uint32, 8)}
	for i := 0; i < 3; i++ {
		b.Submit(testRequest(uint16(80+i)), h)
	}

	// Two credits admit exactly two of the three queued requests.
	if _, err := server.Write([]byte("M\nM\n")); err != nil {
		t.Fatalf("granting credits: %v", err)
	}
	for i := 0; i < 2; i++ {
		line := readLine(t, r, server)
		if !strings.HasPrefix(line, "ping -P tcp-synack -U ") {
			t.Fatalf("dispatched command %d = %q", i, line)
		}
	}

	server.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if line, err := r.ReadString('\n'); err == nil {
		t.Fatalf("expected no third dispatch without credit, got %q", line)
	}

	// A third credit drains the queue.
	if _, err := server.Write([]byte("M\n")); err != nil {
		t.Fatalf("granting third credit: %v", err)
	}
	if line := readLine(t, r, server); !strings.HasPrefix(line, "ping -P tcp-synack -U 3 ") {
		t.Fatalf("third dispatch = %q, want user id 3", line)
	}
}

func TestBrokerUserIDsAreMonotonic(t *testing.T) {
	b, server, cancel := startBroker(t, nil)
	defer cancel()
	r := bufio.NewReader(server)
	readLine(t, r, server) // attach

	h := &stubHandler{probed: make(chan uint32, 8)}
	b.Submit(testRequest(80), h)
	b.Submit(testRequest(81), h)
	server.Write([]byte("M\nM\n"))

	for want := 1; want <= 2; want++ {
		line := readLine(t, r, server)
		var gotID uint32
		var method string
		if _, err := fmt.Sscanf(line, "ping -P %s -U %d", &method, &gotID); err != nil {
			t.Fatalf("unparseable command %q: %v", line, err)
		}
		if gotID != uint32(want) {
			t.Fatalf("user id = %d, want %d", gotID, want)
		}
	}
}

func TestBrokerCorrelatesDecodedReply(t *testing.T) {
	sink := &recordingSink{}
	b, server, cancel := startBroker(t, sink)
	defer cancel()
	r := bufio.NewReader(server)
	readLine(t, r, server) // attach

	h := &stubHandler{probed: make(chan uint32, 1)}
	b.Submit(testRequest(80), h)
	server.Write([]byte("M\n"))
	readLine(t, r, server) // the dispatched command, user id 1

	saddr, _ := ipaddr.Parse("5.6.7.8")
	daddr, _ := ipaddr.Parse("1.2.3.8")
	record := scamper.AppendRecord(nil, scamper.PingReply{
		Method:    proto.ProbeTCPSynAck,
		Saddr:     saddr,
		Daddr:     daddr,
		StartSec:  1600000000,
		NumProbes: 1,
		UserID:    1,
		TTL:       64,
		Sport:     80,
		Dport:     1337,
	})

	// Frame the record the way the daemon would: a data announcement
	// followed by uuencoded lines.
	var data []byte
	for off := 0; off < len(record); off += 45 {
		end := off + 45
		if end > len(record) {
			end = len(record)
		}
		data = append(data, uuencodeLine(record[off:end])...)
		data = append(data, '\n')
	}
	msg := fmt.Sprintf("D %d\n%s", len(data), data)
	if _, err := server.Write([]byte(msg)); err != nil {
		t.Fatalf("writing record: %v", err)
	}

	select {
	case id := <-h.probed:
		if id != 1 {
			t.Fatalf("completed user id = %d, want 1", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reply was not correlated back to the handler")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.replies) != 1 || sink.replies[0].UserID != 1 {
		t.Fatalf("sink saw %v, want one reply with user id 1", sink.replies)
	}
}

func TestBrokerUnknownReplyIsDropped(t *testing.T) {
	sink := &recordingSink{}
	b, _, cancel := startBroker(t, sink)
	defer cancel()

	// A reply whose user id was never issued must not crash the loop.
	b.deliverReply(scamper.PingReply{UserID: 999})
	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.replies) != 1 {
		t.Fatalf("sink should still record the uncorrelated reply, saw %d", len(sink.replies))
	}
}

func TestBrokerShutdownWritesDone(t *testing.T) {
	_, server, cancel := startBroker(t, nil)
	r := bufio.NewReader(server)
	readLine(t, r, server) // attach

	cancel()
	if line := readLine(t, r, server); line != "done\n" {
		t.Fatalf("shutdown wrote %q, want done", line)
	}
}

func TestSweepWalks24BitCounterUnderPrefix(t *testing.T) {
	b := New(nil, func() PingDecoder { return scamper.NewPingReader() })
	b.EnableSweep(10)

	b.sweep = 0xFFFFFE
	first := sweepAddr(b.sweepPrefix, (b.sweep+1)&0xFFFFFF)
	if first.String() != "10.255.255.255" {
		t.Fatalf("sweep addr = %s, want 10.255.255.255", first)
	}
	second := sweepAddr(b.sweepPrefix, (b.sweep+2)&0xFFFFFF)
	if second.String() != "10.0.0.0" {
		t.Fatalf("wrapped sweep addr = %s, want 10.0.0.0", second)
	}
}
