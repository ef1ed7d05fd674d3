package rawprobe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/inetrg/spoki/internal/evloop"
	"github.com/inetrg/spoki/internal/metrics"
)

// Runner drives a Transmitter from a dedicated event-loop thread: a
// socket pair wakes the loop when requests are enqueued or on
// shutdown, and the raw socket is watched for writability while the
// queue is non-empty. Same structure as a broker decoder thread.
type Runner struct {
	tx *Transmitter

	notifyIn  int
	notifyOut int

	done   atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner starts the transmit loop over tx, multiplexing rawFD (the
// transmitter's socket) with a fresh notification pair.
func NewRunner(tx *Transmitter, rawFD int) (*Runner, error) {
	notifyPair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("rawprobe: notify socketpair: %w", err)
	}
	for _, fd := range notifyPair {
		if err := unix.SetNonblock(fd, true); err != nil {
			closePair(notifyPair)
			return nil, fmt.Errorf("rawprobe: set nonblock: %w", err)
		}
	}

	r := &Runner{tx: tx, notifyIn: notifyPair[0], notifyOut: notifyPair[1]}
	loop, err := evloop.New(evloop.Config{
		NotifyFD: r.notifyIn,
		DataFD:   r.notifyIn,
		WriteFD:  rawFD,
		Handler:  r,
	})
	if err != nil {
		closePair(notifyPair)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := loop.Run(ctx); err != nil && err != io.EOF {
			glog.Errorf("transmit loop ended: %v", err)
		}
	}()
	return r, nil
}

func closePair(pair [2]int) {
	unix.Close(pair[0])
	unix.Close(pair[1])
}

// Enqueue appends req to the transmitter's queue and kicks the loop.
func (r *Runner) Enqueue(req Request) {
	if r.done.Load() {
		return
	}
	r.tx.Enqueue(req)
	unix.Write(r.notifyOut, []byte{1})
}

// Stop signals the loop, drains whatever is still queued, and
// releases the notification pair.
func (r *Runner) Stop() {
	if r.done.Swap(true) {
		return
	}
	r.cancel()
	unix.Write(r.notifyOut, []byte{1})
	r.wg.Wait()
	r.tx.Drain()
	unix.Close(r.notifyIn)
	unix.Close(r.notifyOut)
}

// OnNotify drains the notify descriptor; the actual sends happen on
// the writability callback.
func (r *Runner) OnNotify() error {
	var tmp [16]byte
	for {
		n, err := unix.Read(r.notifyIn, tmp[:])
		if n < len(tmp) || err != nil {
			break
		}
	}
	if r.done.Load() {
		return io.EOF
	}
	return nil
}

// OnData is never productive here; the notify descriptor doubles as
// the data descriptor and both route to OnNotify's drain.
func (r *Runner) OnData() error { return r.OnNotify() }

// WantWrite arms the raw socket's write watch while requests are
// pending.
func (r *Runner) WantWrite() bool { return r.tx.Pending() > 0 }

// OnWritable sends everything currently queued.
func (r *Runner) OnWritable() error {
	sent := r.tx.Drain()
	glog.V(2).Infof("transmitted %d raw frames", sent)
	metrics.RawQueueDepth.Set(float64(r.tx.Pending()))
	return nil
}
