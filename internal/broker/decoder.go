package broker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/inetrg/spoki/internal/evloop"
	"github.com/inetrg/spoki/internal/scamper"
)

// PingDecoder extracts complete probe result records from the byte
// stream forwarded off a daemon connection. The record format itself
// belongs to the external daemon; implementations own any framing
// state between Feed calls.
type PingDecoder interface {
	Feed(p []byte) ([]scamper.PingReply, error)
}

// decoderHandle is the surface the broker needs from a decoder; the
// production implementation is Decoder, tests substitute a stub.
type decoderHandle interface {
	Write(buf []byte) error
	Stop()
}

// Decoder runs the per-connection decoding thread: it owns a socket
// pair carrying record bytes (the broker writes into one end, the
// record reader consumes the other) and a notify pair used to wake
// the event loop when new bytes are queued or on shutdown. Structure
// mirrors the raw transmitter's thread.
type Decoder struct {
	dec     PingDecoder
	onReply func(scamper.PingReply)

	notifyIn  int
	notifyOut int
	decodeIn  int
	decodeOut int

	// queue is filled by Write (broker goroutine) and drained by
	// OnNotify (loop goroutine).
	mu    sync.Mutex
	queue [][]byte

	// pending is owned by the loop goroutine: bytes moved out of
	// queue, not yet flushed into the decode socket.
	pending []byte
	readBuf []byte

	done   atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDecoder allocates the descriptor pairs, starts the event loop
// goroutine, and returns the running decoder. Replies extracted from
// the stream are delivered via onReply, called on the loop goroutine.
func NewDecoder(dec PingDecoder, onReply func(scamper.PingReply)) (*Decoder, error) {
	decodePair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("broker: decode socketpair: %w", err)
	}
	notifyPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		closePair(decodePair)
		return nil, fmt.Errorf("broker: notify socketpair: %w", err)
	}
	for _, fd := range []int{decodePair[0], decodePair[1], notifyPair[0], notifyPair[1]} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closePair(decodePair)
			closePair(notifyPair)
			return nil, fmt.Errorf("broker: set nonblock: %w", err)
		}
	}

	d := &Decoder{
		dec:       dec,
		onReply:   onReply,
		notifyIn:  notifyPair[0],
		notifyOut: notifyPair[1],
		decodeIn:  decodePair[0],
		decodeOut: decodePair[1],
		readBuf:   make([]byte, 4096),
	}

	loop, err := evloop.New(evloop.Config{
		NotifyFD: d.notifyIn,
		DataFD:   d.decodeIn,
		WriteFD:  d.decodeOut,
		Handler:  d,
	})
	if err != nil {
		d.closeFDs()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := loop.Run(ctx); err != nil && err != io.EOF {
			glog.Errorf("decoder loop ended: %v", err)
		}
	}()
	return d, nil
}

func closePair(pair [2]int) {
	unix.Close(pair[0])
	unix.Close(pair[1])
}

func (d *Decoder) closeFDs() {
	unix.Close(d.notifyIn)
	unix.Close(d.notifyOut)
	unix.Close(d.decodeIn)
	unix.Close(d.decodeOut)
}

// Write queues record bytes for forwarding and kicks the loop with a
// one-byte notify. Safe to call from the broker goroutine.
func (d *Decoder) Write(buf []byte) error {
	if d.done.Load() {
		return fmt.Errorf("broker: decoder stopped")
	}
	cp := append([]byte(nil), buf...)
	d.mu.Lock()
	d.queue = append(d.queue, cp)
	d.mu.Unlock()
	_, err := unix.Write(d.notifyOut, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("broker: decoder notify: %w", err)
	}
	return nil
}

// Stop signals the loop, waits for it to exit, and releases the
// descriptors.
func (d *Decoder) Stop() {
	if d.done.Swap(true) {
		return
	}
	d.cancel()
	unix.Write(d.notifyOut, []byte{1})
	d.wg.Wait()
	d.closeFDs()
}

// OnNotify drains the notify descriptor and moves queued buffers into
// the loop-owned pending buffer.
func (d *Decoder) OnNotify() error {
	var tmp [16]byte
	for {
		n, err := unix.Read(d.notifyIn, tmp[:])
		if n < len(tmp) || err != nil {
			break
		}
	}
	if d.done.Load() {
		return io.EOF
	}
	d.mu.Lock()
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, buf := range queued {
		d.pending = append(d.pending, buf...)
	}
	return nil
}

// WantWrite reports whether bytes remain to be flushed into the
// decode socket.
func (d *Decoder) WantWrite() bool { return len(d.pending) > 0 }

// OnWritable flushes as much of pending as the socket accepts.
func (d *Decoder) OnWritable() error {
	n, err := unix.Write(d.decodeOut, d.pending)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
	d.pending = d.pending[n:]
	return nil
}

// OnData reads forwarded bytes back out of the decode socket and runs
// them through the record reader, delivering each complete reply.
func (d *Decoder) OnData() error {
	n, err := unix.Read(d.decodeIn, d.readBuf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
	if n == 0 {
		return io.EOF
	}
	replies, err := d.dec.Feed(d.readBuf[:n])
	if err != nil {
		glog.Errorf("record decode failed: %v", err)
		return nil
	}
	for _, r := range replies {
		d.onReply(r)
	}
	return nil
}
