// Package collector accumulates pre-formatted CSV rows into large
// in-memory buffers and hands them to a downstream writer when the
// buffer crosses its write threshold or the wall clock crosses into a
// new hour.
package collector

import (
	"context"

	"github.com/inetrg/spoki/internal/metrics"
)

const (
	kB = 1024
	mB = 1024 * kB

	// DefaultReserveSize is the capacity each buffer is allocated with.
	DefaultReserveSize = 17 * mB
	// DefaultWriteThreshold is the soft hand-off size.
	DefaultWriteThreshold = 16 * mB

	secsPerHour = 3600
)

// Writer consumes finished buffers, tagged with the Unix timestamp of
// the hour they represent. The on-disk implementation lives outside
// this package's concern; tests use an in-memory one.
type Writer interface {
	WriteBuffer(unixTS int64, buf []byte) error
}

// Record is one ingested row: a pre-formatted CSV line and the Unix
// timestamp it was observed at.
type Record struct {
	UnixTS int64
	Line   []byte
}

// Collector is the double-buffered accumulator for one output stream.
// It is single-threaded; Run drains a channel mailbox, or callers with
// their own loop call Add directly.
type Collector struct {
	stream string
	header string

	current []byte
	next    []byte

	writeThreshold int
	reserveSize    int

	// hour is the Unix timestamp of the hour current represents;
	// zero until the first record arrives.
	hour int64

	downstream Writer
}

// New builds a collector with the default buffer sizing.
func New(downstream Writer, stream, header string) *Collector {
	return NewSized(downstream, stream, header, DefaultReserveSize, DefaultWriteThreshold)
}

// NewSized builds a collector with explicit buffer sizing.
func NewSized(downstream Writer, stream, header string, reserveSize, writeThreshold int) *Collector {
	return &Collector{
		stream:         stream,
		header:         header,
		current:        make([]byte, 0, reserveSize),
		next:           make([]byte, 0, reserveSize),
		writeThreshold: writeThreshold,
		reserveSize:    reserveSize,
		downstream:     downstream,
	}
}

// Header returns the CSV header line for this stream, for the
// downstream writer to place at the start of each file.
func (c *Collector) Header() string { return c.header }

// Hour returns the hour the current buffer represents.
func (c *Collector) Hour() int64 { return c.hour }

func hourOf(unixTS int64) int64 {
	return (unixTS / secsPerHour) * secsPerHour
}

// Add appends one record to the current buffer, then hands the buffer
// off if the record crossed an hour boundary or the buffer crossed
// the write threshold.
func (c *Collector) Add(r Record) {
	if c.hour == 0 {
		c.hour = hourOf(r.UnixTS)
	}
	c.current = append(c.current, r.Line...)

	if h := hourOf(r.UnixTS); h != c.hour {
		c.handoff()
		c.hour = h
		return
	}
	if len(c.current) >= c.writeThreshold {
		c.handoff()
	}
}

// handoff gives the current buffer to the downstream writer tagged
// with its hour, promotes the spare buffer, and allocates a fresh
// spare. The spare amortizes allocation cost during hand-off.
func (c *Collector) handoff() {
	if len(c.current) == 0 {
		return
	}
	c.downstream.WriteBuffer(c.hour, c.current)
	c.current = c.next
	c.next = make([]byte, 0, c.reserveSize)
	metrics.CollectorHandoffs.WithLabelValues(c.stream).Inc()
}

// Flush hands off whatever the current buffer holds. Called before
// process exit so in-flight rows are persisted.
func (c *Collector) Flush() {
	c.handoff()
}

// Run drains in until it closes or ctx is done, then flushes.
func (c *Collector) Run(ctx context.Context, in <-chan Record) {
	defer c.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			c.Add(r)
		}
	}
}
