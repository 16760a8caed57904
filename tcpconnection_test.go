package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// acceptOneAsConnection accepts a single connection on ln, detaches
// its fd the way a TcpServer would, and wraps it as a TcpConnection
// owned by loop. Must run before EstablishConnection/Loop race.
func acceptOneAsConnection(t *testing.T, loop *EventLoop, ln net.Listener) *TcpConnection {
	t.Helper()
	return acceptOneAsConnectionWithSndBuf(t, loop, ln, 0)
}

// acceptOneAsConnectionWithSndBuf is acceptOneAsConnection but shrinks
// the accepted socket's SO_SNDBUF to sndBuf bytes first (0 leaves the
// kernel default alone), so a test driving a write past that size can
// rely on the kernel queuing rather than fully draining it in one
// non-blocking write, regardless of the host's default buffer size.
func acceptOneAsConnectionWithSndBuf(t *testing.T, loop *EventLoop, ln net.Listener, sndBuf int) *TcpConnection {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)

	tcpConn := conn.(*net.TCPConn)
	f, err := tcpConn.File()
	require.NoError(t, err)
	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)
	f.Close()
	tcpConn.Close()
	require.NoError(t, unix.SetNonblock(fd, true))
	if sndBuf > 0 {
		require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndBuf))
	}

	local := NewInetAddress(ln.Addr().(*net.TCPAddr))
	peer := NewInetAddress(conn.RemoteAddr().(*net.TCPAddr))
	return NewTcpConnection(loop, "test-conn", fd, local, peer)
}

func TestTcpConnectionEchoesViaEventLoop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop := newTestLoop(t)

	accepted := make(chan *TcpConnection, 1)
	go func() {
		accepted <- acceptOneAsConnection(t, loop, ln)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	serverConn := <-accepted
	serverConn.SetMessageCallback(func(c *TcpConnection, buf *Buffer, _ time.Time) {
		c.Send(buf.Peek())
		buf.RetrieveAll()
	})

	established := make(chan struct{})
	loop.RunInLoop(func() {
		serverConn.EstablishConnection()
		close(established)
	})

	go loop.Loop()
	defer loop.Quit()
	<-established

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestTcpConnectionHighWaterMarkCallbackFires(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop := newTestLoop(t)

	// Shrink SO_SNDBUF so a single non-blocking sendInLoop write cannot
	// drain the payload below, independent of the host's default socket
	// buffer size (often hundreds of KB and not reliably smaller than
	// any fixed payload we could pick instead).
	const sndBuf = 4096
	accepted := make(chan *TcpConnection, 1)
	go func() {
		accepted <- acceptOneAsConnectionWithSndBuf(t, loop, ln, sndBuf)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	serverConn := <-accepted

	hwmHit := make(chan int, 1)
	serverConn.SetHighWaterMarkCallback(func(c *TcpConnection, queued int) {
		select {
		case hwmHit <- queued:
		default:
		}
	}, 1024)

	loop.RunInLoop(serverConn.EstablishConnection)
	go loop.Loop()
	defer loop.Quit()

	// The client never reads, so once the shrunk kernel send buffer
	// fills, the rest of this payload must sit in the TcpConnection's
	// own outputBuffer, crossing the high water mark deterministically.
	big := make([]byte, 4*sndBuf)
	serverConn.Send(big)

	select {
	case queued := <-hwmHit:
		assert.Greater(t, queued, 1024)
	case <-time.After(2 * time.Second):
		t.Fatal("high water mark callback never fired")
	}
}

func TestTcpConnectionGracefulShutdownHalfCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop := newTestLoop(t)

	accepted := make(chan *TcpConnection, 1)
	go func() {
		accepted <- acceptOneAsConnection(t, loop, ln)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	serverConn := <-accepted
	loop.RunInLoop(serverConn.EstablishConnection)

	go loop.Loop()
	defer loop.Quit()

	loop.RunInLoop(serverConn.Shutdown)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err) // EOF: server's write side closed
}
