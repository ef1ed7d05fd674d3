// Package broker multiplexes connections to external probing daemons:
// it speaks the newline-delimited attach protocol, meters outbound
// requests against daemon-granted credits, reassembles uuencoded
// result records into per-connection decoders, and correlates decoded
// replies back to the shard that asked for the probe.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/metrics"
	"github.com/inetrg/spoki/internal/probe"
	"github.com/inetrg/spoki/internal/scamper"
)

const (
	attachCmd = "attach\n"
	doneCmd   = "done\n"

	// Retry interval after a lost daemon connection.
	reconnectTimeout = 15 * time.Second
)

// Typed connection errors, surfaced to callers of Connect.
var (
	ErrFailedToConnect      = errors.New("broker: failed to connect to probing daemon")
	ErrFailedToStartDecoder = errors.New("broker: failed to start record decoder")
)

// ReplyHandler receives the completion signal for a probe the holder
// requested, carrying the original request back. Implemented by shard
// workers.
type ReplyHandler interface {
	Probed(req probe.Request)
}

// ReplySink receives every decoded probe reply, regardless of
// correlation outcome. Implemented by the scamper-responses collector.
type ReplySink interface {
	ScamperResponse(r scamper.PingReply)
}

type eventKind int

const (
	evConnected eventKind = iota
	evData
	evClosed
	evReconnected
)

type connEvent struct {
	kind eventKind
	conn *connection
	data []byte
	nc   net.Conn
	host string
	port uint16
}

type submission struct {
	req  probe.Request
	from ReplyHandler
}

// Broker owns all daemon connections and their decoders. Its state is
// only ever touched on the Run goroutine; other goroutines talk to it
// through the requests/events/replies channels.
type Broker struct {
	sink       ReplySink
	newDecoder func() PingDecoder

	requests chan submission
	events   chan connEvent
	replies  chan scamper.PingReply
	stopped  chan struct{}

	// test hook; defaults to net.Dial over tcp.
	dial func(host string, port uint16) (net.Conn, error)

	handles    []*connection
	inProgress map[uint32]submission
	queue      []submission

	userIDCounter uint32

	// Destination sweep state: when enabled, dispatched requests walk
	// a 24-bit counter under a fixed leading octet instead of using
	// the request's own destination.
	sweepEnabled bool
	sweepPrefix  uint32
	sweep        uint32

	statsNew       uint32
	statsMore      uint32
	statsRequested uint32
	statsCompleted uint32
}

// New builds a Broker delivering decoded replies to sink and using
// newDecoder to allocate a record reader per connection.
func New(sink ReplySink, newDecoder func() PingDecoder) *Broker {
	return &Broker{
		sink:       sink,
		newDecoder: newDecoder,
		requests:   make(chan submission, 1024),
		events:     make(chan connEvent, 1024),
		replies:    make(chan scamper.PingReply, 1024),
		stopped:    make(chan struct{}),
		dial: func(host string, port uint16) (net.Conn, error) {
			return net.Dial("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		},
		inProgress: make(map[uint32]submission),
	}
}

// EnableSweep switches dispatch into sweep mode: destinations walk
// (counter+1) mod 2^24 under the fixed leading octet prefix.
func (b *Broker) EnableSweep(prefix byte) {
	b.sweepEnabled = true
	b.sweepPrefix = uint32(prefix) << 24
}

// Connect dials a probing daemon and registers the connection with
// the Run goroutine. The dial itself is synchronous so callers get a
// typed error; attach and bookkeeping happen on the broker goroutine.
func (b *Broker) Connect(host string, port uint16) error {
	nc, err := b.dial(host, port)
	if err != nil {
		return fmt.Errorf("%w: %s:%d: %v", ErrFailedToConnect, host, port, err)
	}
	b.deliver(connEvent{kind: evConnected, nc: nc, host: host, port: port})
	return nil
}

// Submit hands a probe request to the broker. from is retained until
// the matching reply (or a terminal failure) is observed.
func (b *Broker) Submit(req probe.Request, from ReplyHandler) {
	b.requests <- submission{req: req, from: from}
}

// deliver sends ev to the run loop unless the broker has stopped.
func (b *Broker) deliver(ev connEvent) {
	select {
	case b.events <- ev:
	case <-b.stopped:
	}
}

// deliverReply is the decoder callback; it runs on a decoder loop
// goroutine and hops onto the broker goroutine via the replies
// channel.
func (b *Broker) deliverReply(r scamper.PingReply) {
	select {
	case b.replies <- r:
	case <-b.stopped:
	}
}

// Run is the broker's mailbox loop. It returns once ctx is done,
// after writing done on every active connection.
func (b *Broker) Run(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case s := <-b.requests:
			b.handleSubmission(s)
		case ev := <-b.events:
			b.handleEvent(ev)
		case r := <-b.replies:
			b.handleReply(r)
		case <-tick.C:
			b.report()
		}
	}
}

func (b *Broker) handleEvent(ev connEvent) {
	switch ev.kind {
	case evConnected, evReconnected:
		b.register(ev.nc, ev.host, ev.port)
	case evData:
		b.handleData(ev.conn, ev.data)
	case evClosed:
		b.handleClosed(ev.conn)
	}
}

// register allocates a decoder for a freshly dialed socket, attaches
// to the daemon, and starts the reader goroutine.
func (b *Broker) register(nc net.Conn, host string, port uint16) {
	dec, err := NewDecoder(b.newDecoder(), b.deliverReply)
	if err != nil {
		glog.Errorf("%v: %v", ErrFailedToStartDecoder, err)
		nc.Close()
		b.scheduleReconnect(host, port)
		return
	}
	c := newConnection(host, port, nc, dec)
	b.handles = append(b.handles, c)
	if _, err := nc.Write([]byte(attachCmd)); err != nil {
		glog.Errorf("attach to %s:%d failed: %v", host, port, err)
		b.handleClosed(c)
		return
	}
	glog.V(1).Infof("attached to probing daemon %s:%d as %s", host, port, c.id)
	go c.readLoop(b)
}

// handleClosed tears the connection down and schedules a reconnect.
func (b *Broker) handleClosed(c *connection) {
	for i, h := range b.handles {
		if h == c {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			break
		}
	}
	glog.Errorf("lost connection to probing daemon %s:%d", c.host, c.port)
	c.dec.Stop()
	c.nc.Close()
	b.scheduleReconnect(c.host, c.port)
}

// scheduleReconnect retries the dial off the broker goroutine after
// the reconnect timeout, repeating with the same delay on failure.
func (b *Broker) scheduleReconnect(host string, port uint16) {
	time.AfterFunc(reconnectTimeout, func() {
		nc, err := b.dial(host, port)
		if err != nil {
			glog.Errorf("reconnect to %s:%d failed: %v", host, port, err)
			select {
			case <-b.stopped:
			default:
				b.scheduleReconnect(host, port)
			}
			return
		}
		glog.Infof("reconnected to %s:%d", host, port)
		b.deliver(connEvent{kind: evReconnected, nc: nc, host: host, port: port})
	})
}

// handleData runs inbound bytes through the connection's line parser
// and reacts to each directive.
func (b *Broker) handleData(c *connection, data []byte) {
	for _, d := range c.parser.Feed(data) {
		switch d.Kind {
		case DirectiveEmpty, DirectiveOK:
			// nop
		case DirectiveCredit:
			c.more++
			c.statsMore++
			b.statsMore++
			metrics.BrokerMore.WithLabelValues(c.id.String()).Inc()
			b.sendRequests(c)
		case DirectiveDataAnnounce:
			glog.V(2).Infof("%s: expecting %d bytes of record data", c.id, d.Bytes)
		case DirectiveDataLine:
			decoded, err := uudecodeLine(d.Line)
			if err != nil {
				glog.Errorf("%s: could not uudecode data %q: %v", c.id, d.Line, err)
				continue
			}
			if len(decoded) > 0 {
				if err := c.dec.Write(decoded); err != nil {
					glog.Errorf("%s: decoder write: %v", c.id, err)
				}
			}
		case DirectiveError:
			glog.Errorf("%s: daemon error: %s", c.id, d.Line)
		default:
			glog.Errorf("%s: unknown directive from daemon: %q", c.id, d.Line)
		}
	}
}

// handleSubmission queues a new probe request and tries to dispatch.
func (b *Broker) handleSubmission(s submission) {
	b.statsNew++
	metrics.BrokerNew.Inc()
	b.queue = append(b.queue, s)
	b.sendAll()
}

// sendAll walks every connection in sequence; per-connection credit
// absorbs imbalance.
//
// An earlier round-robin scheme rotated a start offset across
// connections so single requests would not always land on the first
// daemon; sequential dispatch won out and the offset state is gone.
func (b *Broker) sendAll() {
	for _, c := range b.handles {
		b.sendRequests(c)
	}
}

// sendRequests dispatches queued requests on c while credit lasts.
// Each dispatched request is assigned the next user id and, in sweep
// mode, the next destination in the sweep.
func (b *Broker) sendRequests(c *connection) {
	for c.more > 0 && len(b.queue) > 0 {
		s := b.queue[0]
		b.queue = b.queue[1:]

		b.userIDCounter++
		s.req.UserID = b.userIDCounter
		if b.sweepEnabled {
			b.sweep = (b.sweep + 1) & 0xFFFFFF
			s.req.Daddr = sweepAddr(b.sweepPrefix, b.sweep)
		}

		if _, exists := b.inProgress[s.req.UserID]; exists {
			// Wrap-around of the 32-bit counter onto a still-pending
			// probe: answer the new submission immediately instead of
			// clobbering the retained handler.
			glog.Errorf("probe to %s with tag %d already in progress (wrap around?)",
				s.req.Daddr, s.req.UserID)
			if s.from != nil {
				s.from.Probed(s.req)
			}
			continue
		}

		cmd := probe.MakeCommand(s.req)
		if _, err := c.nc.Write([]byte(cmd)); err != nil {
			glog.Errorf("%s: write failed: %v", c.id, err)
			b.queue = append([]submission{s}, b.queue...)
			b.userIDCounter--
			return
		}
		b.inProgress[s.req.UserID] = s
		c.more--
		c.statsRequested++
		b.statsRequested++
		metrics.BrokerRequested.WithLabelValues(c.id.String()).Inc()
	}
	metrics.BrokerQueued.Set(float64(len(b.queue)))
}

// handleReply forwards a decoded reply to the sink and to the shard
// that requested it, then releases the user id.
func (b *Broker) handleReply(r scamper.PingReply) {
	if b.sink != nil {
		b.sink.ScamperResponse(r)
	}
	s, ok := b.inProgress[r.UserID]
	if !ok {
		glog.Errorf("missing entry for %d", r.UserID)
		return
	}
	if s.from != nil {
		s.from.Probed(s.req)
	}
	delete(b.inProgress, r.UserID)
	b.statsCompleted++
	metrics.BrokerCompleted.Inc()
}

// report logs the per-second counters plus the per-connection
// breakdown, then resets them.
func (b *Broker) report() {
	var sb strings.Builder
	fmt.Fprintf(&sb, " n: %d m: %d r: %d q: %d",
		b.statsNew, b.statsMore, b.statsRequested, len(b.queue))
	sb.WriteString(" (mpb:")
	for _, c := range b.handles {
		fmt.Fprintf(&sb, " [%s: %d]", c.id, c.statsMore)
	}
	sb.WriteString(") (rpb:")
	for _, c := range b.handles {
		fmt.Fprintf(&sb, " [%s: %d]", c.id, c.statsRequested)
	}
	sb.WriteString(")")
	glog.Info(sb.String())

	b.statsNew = 0
	b.statsMore = 0
	b.statsRequested = 0
	for _, c := range b.handles {
		c.statsMore = 0
		c.statsRequested = 0
	}
}

// shutdown writes done on every active connection and stops the
// decoders.
func (b *Broker) shutdown() {
	close(b.stopped)
	for _, c := range b.handles {
		if _, err := c.nc.Write([]byte(doneCmd)); err != nil {
			glog.V(1).Infof("%s: done write failed: %v", c.id, err)
		}
		c.dec.Stop()
		c.nc.Close()
	}
	b.handles = nil
}

// sweepAddr composes the fixed leading octet with the 24-bit sweep
// counter.
func sweepAddr(prefixBits, counter uint32) ipaddr.Addr {
	return ipaddr.FromBits(prefixBits | counter)
}
