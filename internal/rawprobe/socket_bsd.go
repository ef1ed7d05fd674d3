//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package rawprobe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// rawSocket is the production Socket backed by an IPPROTO_RAW socket
// with IP_HDRINCL enabled: the kernel trusts the IPv4 header this
// package crafts instead of building its own.
type rawSocket struct {
	fd int
}

// OpenRawSocket creates and configures the IP_HDRINCL raw socket.
func OpenRawSocket() (Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("rawprobe: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawprobe: setsockopt IP_HDRINCL: %w", err)
	}
	return &rawSocket{fd: fd}, nil
}

// SendTo writes a pre-crafted frame to daddr. The transmitter does
// not retry on EAGAIN; the error is simply returned for the caller to
// count as dropped.
func (s *rawSocket) SendTo(frame []byte, daddr [4]byte) error {
	var sa unix.SockaddrInet4
	sa.Addr = daddr
	return unix.Sendto(s.fd, frame, 0, &sa)
}

// Fd exposes the descriptor for the transmit loop's write watch.
func (s *rawSocket) Fd() int { return s.fd }

// Close releases the underlying file descriptor.
func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
