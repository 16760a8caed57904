package reactor

import "time"

// ConnectionCallback is invoked whenever a TcpConnection transitions
// to connected or to disconnected.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback is invoked whenever new bytes have been appended to
// a TcpConnection's input Buffer.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receiveTime time.Time)

// WriteCompleteCallback is invoked once all of a Send's bytes have
// been handed to the kernel: right after a direct write that took
// everything, or once the output Buffer has fully drained.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback is invoked when a TcpConnection's output
// Buffer grows past its high-water mark, crossing upward from below
// it.
type HighWaterMarkCallback func(conn *TcpConnection, queuedBytes int)

// CloseCallback is invoked once a TcpConnection has fully transitioned
// to disconnected, after ConnectionCallback has already run.
type CloseCallback func(conn *TcpConnection)

// DefaultConnectionCallback logs the connection's up/down transition.
// Supplemental convenience, grounded on muduo's
// defaultConnectionCallback in TcpConnection.cc.
func DefaultConnectionCallback(conn *TcpConnection) {
	state := "DOWN"
	if conn.Connected() {
		state = "UP"
	}
	Log.Debugf("%s -> %s is %s", conn.LocalAddress(), conn.PeerAddress(), state)
}

// DefaultMessageCallback discards whatever arrived. Supplemental
// convenience, grounded on muduo's defaultMessageCallback.
func DefaultMessageCallback(conn *TcpConnection, buf *Buffer, receiveTime time.Time) {
	buf.RetrieveAll()
}
