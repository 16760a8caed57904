// Package server wires reactor.EventLoop to a listening TCP socket: it
// accepts connections, hands each one to the loop as a
// reactor.TcpConnection, and removes it again once closed. Grounded on
// other_examples' evio listener.system()/loopAccept for the
// detach-fd-and-set-nonblocking idiom gaio's own retrieved files
// didn't need (gaio never owns a listening socket itself).
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/netreact/reactor"
)

// TcpServer owns a non-blocking listening socket on loop and converts
// each accepted peer into a reactor.TcpConnection.
type TcpServer struct {
	loop     *reactor.EventLoop
	name     string
	listenFD int
	acceptCh *reactor.Channel

	mu          sync.Mutex
	connections map[string]*reactor.TcpConnection
	nextConnID  int

	connectionCallback    reactor.ConnectionCallback
	messageCallback       reactor.MessageCallback
	writeCompleteCallback reactor.WriteCompleteCallback

	started bool
}

// NewTcpServer binds addr on loop's goroutine-affine EventLoop.
func NewTcpServer(loop *reactor.EventLoop, name string, addr *net.TCPAddr) (*TcpServer, error) {
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	f, err := ln.File()
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "listener.File")
	}
	// f.Fd() hands back a dup'd, blocking descriptor; take ownership
	// of a further dup so closing f/ln doesn't also close it, grounded
	// on evio's listener.system() detach-and-set-nonblocking idiom.
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	ln.Close()
	if err != nil {
		return nil, errors.Wrap(err, "dup listener fd")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set listener non-blocking")
	}

	s := &TcpServer{
		loop:               loop,
		name:               name,
		listenFD:           fd,
		connections:        make(map[string]*reactor.TcpConnection),
		connectionCallback: reactor.DefaultConnectionCallback,
		messageCallback:    reactor.DefaultMessageCallback,
	}
	s.acceptCh = reactor.NewChannel(loop, fd)
	s.acceptCh.SetReadCallback(func(_ time.Time) { s.handleAccept() })
	return s, nil
}

// SetConnectionCallback installs the handler for every accepted
// connection's up/down transitions.
func (s *TcpServer) SetConnectionCallback(cb reactor.ConnectionCallback) {
	s.connectionCallback = cb
}

// SetMessageCallback installs the handler for inbound data on every
// accepted connection.
func (s *TcpServer) SetMessageCallback(cb reactor.MessageCallback) {
	s.messageCallback = cb
}

// SetWriteCompleteCallback installs the handler invoked whenever an
// accepted connection's output buffer fully drains.
func (s *TcpServer) SetWriteCompleteCallback(cb reactor.WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// Start arms the accept channel for reading. Must be called from
// loop's goroutine, typically just before EventLoop.Loop.
func (s *TcpServer) Start() {
	if s.started {
		return
	}
	s.started = true
	s.acceptCh.EnableReading()
}

func (s *TcpServer) handleAccept() {
	for {
		nfd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err != unix.EAGAIN {
				reactor.Log.WithError(err).Warn("reactor/server: accept failed")
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			reactor.Log.WithError(err).Warn("reactor/server: set accepted fd non-blocking failed")
			unix.Close(nfd)
			continue
		}

		s.mu.Lock()
		s.nextConnID++
		connName := fmt.Sprintf("%s-%d", s.name, s.nextConnID)
		s.mu.Unlock()

		peer := reactor.NewInetAddress(sockaddrToTCPAddr(sa))
		local := s.localAddr()

		conn := reactor.NewTcpConnection(s.loop, connName, nfd, local, peer)
		conn.SetConnectionCallback(s.connectionCallback)
		conn.SetMessageCallback(s.messageCallback)
		conn.SetWriteCompleteCallback(s.writeCompleteCallback)
		conn.SetCloseCallback(s.removeConnection)

		s.mu.Lock()
		s.connections[connName] = conn
		s.mu.Unlock()

		conn.EstablishConnection()
	}
}

func (s *TcpServer) removeConnection(conn *reactor.TcpConnection) {
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	conn.DestroyConnection()
}

func (s *TcpServer) localAddr() reactor.InetAddress {
	sa, err := unix.Getsockname(s.listenFD)
	if err != nil {
		return reactor.InetAddress{}
	}
	return reactor.NewInetAddress(sockaddrToTCPAddr(sa))
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}

// Close stops accepting and closes the listening socket. Existing
// connections are left to their own
// CloseCallback-driven teardown.
func (s *TcpServer) Close() error {
	s.acceptCh.DisableAll()
	s.acceptCh.Remove()
	return unix.Close(s.listenFD)
}
