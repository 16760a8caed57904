package reactor

import "time"

type connState int

const (
	connConnecting connState = iota
	connConnected
	connDisconnecting
	connDisconnected
)

func (s connState) String() string {
	switch s {
	case connConnecting:
		return "connecting"
	case connConnected:
		return "connected"
	case connDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// defaultHighWaterMark is the output-buffer size past which
// HighWaterMarkCallback fires on the upward crossing, matching
// muduo's TcpConnection ctor default.
const defaultHighWaterMark = 64 * 1024 * 1024

// TcpConnection is one established (or connecting) peer: a Socket, a
// read/write Channel, and the input/output Buffers that let Send
// return immediately even when the kernel socket buffer is full. All
// of its methods except Send/Shutdown/Context must only be called
// from its owning EventLoop's goroutine. See spec §5; grounded on
// muduo's TcpConnection.{h,cc}.
type TcpConnection struct {
	loop  *EventLoop
	name  string
	state connState

	socket  *Socket
	channel *Channel

	localAddr, peerAddr InetAddress

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int
	destroyed     bool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	// Context is free for callers to stash per-connection application
	// state, mirroring muduo's boost::any context_.
	Context interface{}
}

// NewTcpConnection wraps an already-accepted, non-blocking fd as a
// TcpConnection in the connecting state. The caller must follow up
// with EstablishConnection once accept-side bookkeeping is done.
func NewTcpConnection(loop *EventLoop, name string, fd int, local, peer InetAddress) *TcpConnection {
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		state:         connConnecting,
		socket:        NewSocket(fd),
		channel:       newChannel(loop, fd),
		localAddr:     local,
		peerAddr:      peer,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,

		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
	}
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	// Go's garbage collector already keeps a TcpConnection alive for
	// as long as its Channel's callback closures reference it, so Tie
	// here isn't guarding memory lifetime the way muduo's weak_ptr
	// upgrade does. It guards logical staleness instead: if something
	// dispatched earlier in the same poll batch has already torn this
	// connection down (destroyed==true), later events for the same
	// batch must not re-enter its callbacks.
	c.channel.Tie(func() (func(), bool) {
		return func() {}, !c.destroyed
	})
	return c
}

// Name returns the connection's identifying name.
func (c *TcpConnection) Name() string { return c.name }

// LocalAddress returns the local endpoint.
func (c *TcpConnection) LocalAddress() InetAddress { return c.localAddr }

// PeerAddress returns the remote endpoint.
func (c *TcpConnection) PeerAddress() InetAddress { return c.peerAddr }

// Connected reports whether the connection is in the connected state.
func (c *TcpConnection) Connected() bool { return c.state == connConnected }

// Disconnected reports whether the connection has fully torn down.
func (c *TcpConnection) Disconnected() bool { return c.state == connDisconnected }

// SetConnectionCallback installs the up/down transition handler.
func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback installs the inbound-data handler.
func (c *TcpConnection) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback installs the output-buffer-drained handler.
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the back-pressure handler and its
// threshold in bytes.
func (c *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

// SetCloseCallback installs the final teardown handler. Intended for
// the owning server/client to reclaim bookkeeping (e.g. removing the
// connection from its registry); application code should prefer
// SetConnectionCallback.
func (c *TcpConnection) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *TcpConnection) SetTCPNoDelay(on bool) error {
	return c.socket.SetTCPNoDelay(on)
}

// EstablishConnection transitions connecting -> connected, arms
// reading and fires the connection callback. Must run in the loop.
func (c *TcpConnection) EstablishConnection() {
	c.loop.assertInLoopThread()
	if c.state != connConnecting {
		panic("reactor: EstablishConnection called outside the connecting state")
	}
	c.state = connConnected
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// DestroyConnection transitions to disconnected, unregisters the
// channel and closes the socket. Must run in the loop, typically from
// the owning server's accept-loop bookkeeping once CloseCallback has
// fired.
func (c *TcpConnection) DestroyConnection() {
	c.loop.assertInLoopThread()
	if c.state == connConnected {
		c.state = connDisconnected
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.destroyed = true
	c.channel.Remove()
	if err := c.socket.Close(); err != nil {
		Log.WithError(err).Warn("reactor: socket close failed")
	}
}

// Send queues data for delivery, writing straight to the socket when
// possible and buffering the remainder otherwise. Safe from any
// goroutine; off-loop callers pay one copy so the bytes survive the
// hand-off, matching muduo's FIXME-acknowledged trade-off. Returns
// ErrConnClosed without queueing anything if the connection is not
// currently connected.
func (c *TcpConnection) Send(data []byte) error {
	if c.state != connConnected {
		return ErrConnClosed
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
	} else {
		cp := append([]byte(nil), data...)
		c.loop.RunInLoop(func() { c.sendInLoop(cp) })
	}
	return nil
}

// SendString is a convenience wrapper around Send.
func (c *TcpConnection) SendString(s string) error { return c.Send([]byte(s)) }

// SendBuffer sends and fully retrieves buf's readable content.
func (c *TcpConnection) SendBuffer(buf *Buffer) error {
	err := c.Send(buf.Peek())
	buf.RetrieveAll()
	return err
}

func (c *TcpConnection) sendInLoop(data []byte) {
	c.loop.assertInLoopThread()
	if c.state == connDisconnected {
		Log.Warn("reactor: giving up, connection already disconnected")
		return
	}

	var nwrote int
	remaining := len(data)
	faultError := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := c.socket.Write(data)
		if err == nil {
			nwrote = n
			remaining = len(data) - n
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else if !isWouldBlock(err) {
			Log.WithError(err).Warn("reactor: socket write failed")
			faultError = true
		}
	}

	if faultError {
		return
	}

	if remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		if oldLen+remaining >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, oldLen+remaining) })
		}
		c.outputBuffer.Append(data[nwrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the connection once the output buffer has
// fully drained: the write side only, so any not-yet-read inbound
// bytes keep arriving. See spec §5.4.
func (c *TcpConnection) Shutdown() {
	if c.state == connConnected {
		c.state = connDisconnecting
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		if err := c.socket.ShutdownWrite(); err != nil {
			Log.WithError(err).Warn("reactor: shutdown write side failed")
		}
	}
}

func (c *TcpConnection) handleRead(receiveTime time.Time) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFD(c.channel.FD())
	switch {
	case err != nil:
		if isWouldBlock(err) {
			return
		}
		Log.WithError(err).Warn("reactor: socket read failed")
		c.handleError()
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	default:
		c.handleClose()
	}
}

func (c *TcpConnection) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		Log.Trace("reactor: connection is down, no more writing")
		return
	}
	n, err := c.socket.Write(c.outputBuffer.Peek())
	if err != nil {
		if !isWouldBlock(err) {
			Log.WithError(err).Warn("reactor: socket write failed")
			c.handleClose()
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.state == connDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	if c.state != connConnected && c.state != connDisconnecting {
		return
	}
	c.state = connDisconnected
	c.channel.DisableAll()
	c.destroyed = true

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	// must be last: closeCallback typically erases the owning
	// server's reference to this connection.
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	Log.WithField("conn", c.name).Warn("reactor: socket error")
}
