// Package lenc implements a length-prefixed message codec on top of
// reactor.TcpConnection: a 4-byte network-order header gives the
// payload length, letting a stream of arbitrary-size messages be
// reassembled out of however many reads the kernel happens to
// deliver. Grounded on muduo's LengthHeaderCodec
// (examples/asio/chat/codec.h).
package lenc

import (
	"time"

	"github.com/pkg/errors"

	"github.com/netreact/reactor"
)

// headerLen is the size of the length prefix.
const headerLen = 4

// maxMessageLen rejects absurd or corrupt length headers before they
// can be used to justify buffering unbounded memory.
const maxMessageLen = 65536

// ErrInvalidLength is logged (and the connection shut down) when a
// header claims a length outside [0, maxMessageLen].
var ErrInvalidLength = errors.New("lenc: invalid message length")

// StringMessageCallback receives one fully reassembled message.
type StringMessageCallback func(conn *reactor.TcpConnection, message string, receiveTime time.Time)

// Codec decodes a length-prefixed byte stream into whole messages and
// wraps the framing on send.
type Codec struct {
	onMessage StringMessageCallback
}

// NewCodec returns a Codec that delivers decoded messages to cb.
func NewCodec(cb StringMessageCallback) *Codec {
	return &Codec{onMessage: cb}
}

// OnMessage is installed as a TcpConnection's MessageCallback. It
// loops because a single readable event can deliver more than one
// framed message, or only a fragment of one.
func (c *Codec) OnMessage(conn *reactor.TcpConnection, buf *reactor.Buffer, receiveTime time.Time) {
	for buf.ReadableBytes() >= headerLen {
		length := int(buf.PeekInt32())
		if length > maxMessageLen || length < 0 {
			reactor.Log.WithError(ErrInvalidLength).WithField("length", length).Error("lenc: invalid length, shutting down connection")
			conn.Shutdown()
			break
		}
		if buf.ReadableBytes() < headerLen+length {
			break
		}
		buf.Retrieve(headerLen)
		message := buf.RetrieveAsString(length)
		if c.onMessage != nil {
			c.onMessage(conn, message, receiveTime)
		}
	}
}

// Send frames message with its length header and writes it to conn.
// Prepend makes the header stamp zero-copy relative to the payload.
func (c *Codec) Send(conn *reactor.TcpConnection, message string) {
	buf := reactor.NewBuffer()
	buf.AppendString(message)
	buf.PrependInt32(int32(len(message)))
	conn.SendBuffer(buf)
}
