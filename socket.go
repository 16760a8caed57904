package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Socket owns a connected, non-blocking file descriptor. It does not
// close the descriptor itself until Close is called, matching
// muduo's comment in TcpConnection::handleClose: fds are closed
// explicitly rather than left to a destructor, to keep leaks easy to
// spot. See spec §5/§6.
type Socket struct {
	fd int
}

// NewSocket wraps fd and arms TCP keep-alive, which muduo's
// TcpConnection constructor always enables unconditionally.
func NewSocket(fd int) *Socket {
	s := &Socket{fd: fd}
	s.SetKeepAlive(true)
	return s
}

// FD returns the underlying descriptor.
func (s *Socket) FD() int { return s.fd }

// SetKeepAlive toggles SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return errors.Wrap(err, "setsockopt SO_KEEPALIVE")
	}
	return nil
}

// SetTCPNoDelay toggles Nagle's algorithm. Supplemental to the
// distilled spec but present in the original muduo Socket as
// setTcpNoDelay, and exposed on TcpConnection.SetTCPNoDelay.
func (s *Socket) SetTCPNoDelay(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return errors.Wrap(err, "setsockopt TCP_NODELAY")
	}
	return nil
}

// ShutdownWrite half-closes the write side, letting any unread input
// keep arriving. See spec §5.4 graceful shutdown.
func (s *Socket) ShutdownWrite() error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return errors.Wrap(err, "shutdown SHUT_WR")
	}
	return nil
}

// Write writes b directly to the socket, non-blocking: a short write
// or EAGAIN is reported to the caller to buffer and retry on
// writability, never retried here.
func (s *Socket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// isWouldBlock reports whether err is the non-blocking-write/read
// "try again" signal rather than a real failure.
func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
