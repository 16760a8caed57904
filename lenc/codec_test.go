package lenc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netreact/reactor"
)

func TestCodecDecodesOneCompleteMessage(t *testing.T) {
	var got string
	c := NewCodec(func(_ *reactor.TcpConnection, message string, _ time.Time) {
		got = message
	})

	buf := reactor.NewBuffer()
	buf.AppendInt32(5)
	buf.AppendString("hello")

	c.OnMessage(nil, buf, time.Now())
	assert.Equal(t, "hello", got)
	assert.Equal(t, 0, buf.ReadableBytes())
}

func TestCodecWaitsForFullMessageAcrossPartialReads(t *testing.T) {
	var received []string
	c := NewCodec(func(_ *reactor.TcpConnection, message string, _ time.Time) {
		received = append(received, message)
	})

	buf := reactor.NewBuffer()
	buf.AppendInt32(5)
	buf.AppendString("hel") // partial payload only

	c.OnMessage(nil, buf, time.Now())
	assert.Empty(t, received)
	require.Equal(t, 7, buf.ReadableBytes()) // header consumed? no: nothing retrieved yet

	buf.AppendString("lo") // rest arrives
	c.OnMessage(nil, buf, time.Now())
	require.Len(t, received, 1)
	assert.Equal(t, "hello", received[0])
}

func TestCodecDecodesMultipleMessagesInOneBatch(t *testing.T) {
	var received []string
	c := NewCodec(func(_ *reactor.TcpConnection, message string, _ time.Time) {
		received = append(received, message)
	})

	buf := reactor.NewBuffer()
	buf.AppendInt32(3)
	buf.AppendString("one")
	buf.AppendInt32(3)
	buf.AppendString("two")

	c.OnMessage(nil, buf, time.Now())
	require.Len(t, received, 2)
	assert.Equal(t, []string{"one", "two"}, received)
	assert.Equal(t, 0, buf.ReadableBytes())
}

func TestCodecSendPrependsLengthHeader(t *testing.T) {
	// Send needs a live TcpConnection, so this checks the framing Send
	// builds (AppendString then PrependInt32) on a bare Buffer.
	buf := reactor.NewBuffer()
	buf.AppendString("payload")
	buf.PrependInt32(int32(len("payload")))

	require.Equal(t, 11, buf.ReadableBytes())
	assert.Equal(t, int32(7), buf.PeekInt32())
}
