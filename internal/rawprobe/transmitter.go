package rawprobe

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// Socket is the minimal raw-socket surface the transmitter needs,
// satisfied in production by an IP_HDRINCL socket opened via
// golang.org/x/sys/unix (see OpenRawSocket in socket_linux.go and
// socket_bsd.go) and by a fake in tests.
type Socket interface {
	SendTo(frame []byte, daddr [4]byte) error
}

// Transmitter owns a queue of pending requests appended under a
// mutex and a per-port payload table. A dedicated goroutine (the
// Runner's event loop in production) drains the queue and writes
// frames to sock.
type Transmitter struct {
	mu      sync.Mutex
	pending []Request
	table   PayloadTable
	sock    Socket

	// dropped counts requests whose send failed; there is no retry on
	// EAGAIN, the request is logged and dropped. Accessed atomically
	// since Drain's send loop runs outside the pending-queue mutex.
	dropped uint64
}

// New builds a Transmitter writing crafted frames to sock using
// table for per-destination-port payload overrides (nil to always
// fall through to the request's own payload / default byte).
func New(sock Socket, table PayloadTable) *Transmitter {
	return &Transmitter{sock: sock, table: table}
}

// Enqueue appends req to the pending queue.
func (t *Transmitter) Enqueue(req Request) {
	t.mu.Lock()
	t.pending = append(t.pending, req)
	t.mu.Unlock()
}

// Drain pops and sends every currently pending request, returning how
// many were sent. A send error counts the request as dropped; it is
// never retried.
func (t *Transmitter) Drain() (sent int) {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, req := range batch {
		frame := Build(req, t.table)
		if err := t.sock.SendTo(frame, req.Daddr.Bytes()); err != nil {
			glog.Errorf("rawprobe: send to %s failed, dropping: %v", req.Daddr, err)
			atomic.AddUint64(&t.dropped, 1)
			continue
		}
		sent++
	}
	return sent
}

// Dropped returns the cumulative count of requests dropped due to a
// send error.
func (t *Transmitter) Dropped() uint64 {
	return atomic.LoadUint64(&t.dropped)
}

// Pending returns the number of requests currently queued.
func (t *Transmitter) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
