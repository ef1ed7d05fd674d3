package broker

import (
	"net"

	"github.com/rs/xid"
)

// maxMsgSize bounds a single read off a daemon connection; the
// smallest payload the daemon sends for regular commands fits well
// inside it.
const maxMsgSize = 512

// connection is the broker's per-daemon state: the stream socket, the
// line parser, the owned decoder, and the credit/stat counters. All
// fields except the reader goroutine's socket reads are touched only
// on the broker goroutine.
type connection struct {
	id     xid.ID
	host   string
	port   uint16
	nc     net.Conn
	parser LineParser
	dec    decoderHandle

	// more is the daemon's current credit balance.
	more int

	// per-second reporting counters, reset after every report.
	statsMore      uint32
	statsRequested uint32
}

func newConnection(host string, port uint16, nc net.Conn, dec decoderHandle) *connection {
	return &connection{
		id:   xid.New(),
		host: host,
		port: port,
		nc:   nc,
		dec:  dec,
	}
}

// readLoop pulls bytes off the socket and hands them to the broker's
// event channel until the connection fails or closes. It runs on its
// own goroutine; the broker goroutine does all parsing.
func (c *connection) readLoop(b *Broker) {
	buf := make([]byte, maxMsgSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			b.deliver(connEvent{kind: evData, conn: c, data: chunk})
		}
		if err != nil {
			b.deliver(connEvent{kind: evClosed, conn: c})
			return
		}
	}
}
