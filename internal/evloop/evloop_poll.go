//go:build linux

package evloop

import (
	"context"

	"golang.org/x/sys/unix"
)

// pollLoop is the readiness-based backend, used on Linux where
// kqueue is unavailable.
type pollLoop struct {
	cfg Config
}

// New builds the build-time-selected Loop implementation.
func New(cfg Config) (Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &pollLoop{cfg: cfg}, nil
}

// Run implements Loop: read events on the notify descriptor trigger
// Handler.OnNotify; read events on the data descriptor trigger
// Handler.OnData; write events on the write descriptor (WriteFD) are
// enabled only while Handler.WantWrite() reports pending output. EOF
// or error on any watched descriptor ends the loop.
func (l *pollLoop) Run(ctx context.Context) error {
	timeoutMs := int(l.cfg.Timeout.Milliseconds())
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		pfds := []unix.PollFd{
			{Fd: int32(l.cfg.NotifyFD), Events: unix.POLLIN},
			{Fd: int32(l.cfg.DataFD), Events: unix.POLLIN},
		}
		if l.cfg.Handler.WantWrite() {
			pfds = append(pfds, unix.PollFd{Fd: int32(l.cfg.WriteFD), Events: unix.POLLOUT})
		}

		n, err := unix.Poll(pfds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		if pfds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return nil
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			if err := l.cfg.Handler.OnNotify(); err != nil {
				return err
			}
		}

		if pfds[1].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return nil
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			if err := l.cfg.Handler.OnData(); err != nil {
				return err
			}
		}

		if len(pfds) > 2 {
			if pfds[2].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				return nil
			}
			if pfds[2].Revents&unix.POLLOUT != 0 {
				if err := l.cfg.Handler.OnWritable(); err != nil {
					return err
				}
			}
		}
	}
}
