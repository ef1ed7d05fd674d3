// Package evloop implements the shared event-loop abstraction used by
// both a broker decoder thread and the raw-packet transmitter: each
// owns a notify descriptor (woken to signal pending work or shutdown)
// and a data descriptor, and runs a private multiplexer loop over the
// two. Two backends are provided, selected at build time: a
// readiness-based poll loop (evloop_poll.go, linux) and a kqueue loop
// (evloop_kqueue.go, darwin/bsd).
package evloop

import (
	"context"
	"fmt"
	"time"
)

const defaultPollTimeout = 1 * time.Second

// Handler reacts to readiness events on the loop's two descriptors.
// OnNotify is called when the notify descriptor becomes readable
// (pending work signaled from another goroutine); OnData is called
// when the data descriptor becomes readable. WantWrite is polled
// before each iteration to decide whether the write descriptor
// (Config.WriteFD) should also be watched for writability (bytes
// remain to be forwarded).
type Handler interface {
	OnNotify() error
	OnData() error
	OnWritable() error
	WantWrite() bool
}

// Config pins the two descriptors a Loop multiplexes and the handler
// invoked on readiness, plus a poll timeout bounding how long a single
// iteration blocks with no activity.
type Config struct {
	NotifyFD int
	DataFD   int
	// WriteFD is the descriptor watched for writability while
	// Handler.WantWrite() is true. Zero means "same as DataFD"; a
	// decoder forwarding bytes through a socket pair sets it to the
	// pair's write side.
	WriteFD int
	Handler Handler
	Timeout time.Duration
}

// Validate fills in defaults and rejects a Config missing required
// fields.
func (cfg *Config) Validate() error {
	if cfg.NotifyFD < 0 {
		return fmt.Errorf("evloop: NotifyFD is required")
	}
	if cfg.DataFD < 0 {
		return fmt.Errorf("evloop: DataFD is required")
	}
	if cfg.Handler == nil {
		return fmt.Errorf("evloop: Handler is required")
	}
	if cfg.WriteFD <= 0 {
		cfg.WriteFD = cfg.DataFD
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultPollTimeout
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("evloop: Timeout must be greater than 0")
	}
	return nil
}

// Loop runs a multiplexer loop until ctx is done or a descriptor
// reports EOF/error. The concrete implementation (poll or kqueue) is
// selected at build time.
type Loop interface {
	Run(ctx context.Context) error
}
