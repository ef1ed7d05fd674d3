//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package evloop

import (
	"context"

	"golang.org/x/sys/unix"
)

// kqueueLoop is the kernel-event-based backend, used on BSD-family
// kernels (including Darwin) where kqueue is available.
type kqueueLoop struct {
	cfg Config
	kq  int
}

// New builds the build-time-selected Loop implementation.
func New(cfg Config) (Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	l := &kqueueLoop{cfg: cfg, kq: kq}
	if err := l.registerReads(); err != nil {
		unix.Close(kq)
		return nil, err
	}
	return l, nil
}

func (l *kqueueLoop) registerReads() error {
	changes := []unix.Kevent_t{
		makeKevent(l.cfg.NotifyFD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE),
		makeKevent(l.cfg.DataFD, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE),
	}
	_, err := unix.Kevent(l.kq, changes, nil, nil)
	return err
}

func (l *kqueueLoop) setWriteWatch(enable bool) error {
	flags := uint16(unix.EV_ADD)
	if enable {
		flags |= unix.EV_ENABLE
	} else {
		flags |= unix.EV_DISABLE
	}
	changes := []unix.Kevent_t{makeKevent(l.cfg.WriteFD, unix.EVFILT_WRITE, flags)}
	_, err := unix.Kevent(l.kq, changes, nil, nil)
	return err
}

func makeKevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

// Run implements Loop with the same semantics as the poll backend,
// expressed over kqueue: EVFILT_READ on the notify descriptor
// triggers Handler.OnNotify, EVFILT_READ on the data descriptor
// triggers Handler.OnData, and EVFILT_WRITE on the write descriptor
// (armed only while Handler.WantWrite() is true) triggers
// Handler.OnWritable.
func (l *kqueueLoop) Run(ctx context.Context) error {
	defer unix.Close(l.kq)

	events := make([]unix.Kevent_t, 8)
	wantingWrite := false
	timeout := unix.NsecToTimespec(l.cfg.Timeout.Nanoseconds())

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		want := l.cfg.Handler.WantWrite()
		if want != wantingWrite {
			if err := l.setWriteWatch(want); err != nil {
				return err
			}
			wantingWrite = want
		}

		n, err := unix.Kevent(l.kq, nil, events, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Ident)
			if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
				return nil
			}
			switch {
			case fd == l.cfg.NotifyFD && ev.Filter == unix.EVFILT_READ:
				if err := l.cfg.Handler.OnNotify(); err != nil {
					return err
				}
			case fd == l.cfg.DataFD && ev.Filter == unix.EVFILT_READ:
				if err := l.cfg.Handler.OnData(); err != nil {
					return err
				}
			case fd == l.cfg.WriteFD && ev.Filter == unix.EVFILT_WRITE:
				if err := l.cfg.Handler.OnWritable(); err != nil {
					return err
				}
			}
		}
	}
}
