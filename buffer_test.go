package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferCursorInvariant(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialSize, b.WritableBytes())

	b.AppendString("hello")
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, initialSize-5, b.WritableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())

	b.Retrieve(2)
	assert.Equal(t, 3, b.ReadableBytes())
	assert.Equal(t, "llo", string(b.Peek()))

	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
}

func TestBufferGrowsWhenPrependReserveInsufficient(t *testing.T) {
	b := NewBufferSize(8)
	b.AppendString("0123456789") // exceeds the 8-byte initial writable tail
	require.Equal(t, 10, b.ReadableBytes())
	assert.Equal(t, "0123456789", string(b.Peek()))
}

func TestBufferMakeSpaceCompactsInPlaceWhenPossible(t *testing.T) {
	b := NewBufferSize(16)
	b.AppendString("0123456789")
	b.Retrieve(5) // "56789" remains, freeing space before it
	before := b.WritableBytes()

	b.Append(make([]byte, cheapPrepend)) // larger than the writable tail; fits via compaction
	assert.Equal(t, "56789", string(b.Peek()[:5]))
	assert.True(t, b.WritableBytes() <= before+cheapPrepend)
}

func TestBufferIntRoundTrip(t *testing.T) {
	b := NewBuffer()
	b.AppendInt32(42)
	b.AppendInt16(7)
	b.AppendInt8(-1)

	require.Equal(t, int32(42), b.ReadInt32())
	require.Equal(t, int16(7), b.ReadInt16())
	require.Equal(t, int8(-1), b.ReadInt8())
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestBufferPrependPreservesContent(t *testing.T) {
	b := NewBuffer()
	b.AppendString("payload")
	b.PrependInt32(7)

	require.Equal(t, 11, b.ReadableBytes())
	assert.Equal(t, int32(7), b.PeekInt32())
	assert.Equal(t, "payload", string(b.Peek()[4:]))
}

func TestBufferPrependTooLargePanics(t *testing.T) {
	b := NewBuffer()
	assert.PanicsWithValue(t, ErrPrependTooLarge, func() {
		b.Prepend(make([]byte, cheapPrepend+1))
	})
}

func TestBufferFindCRLF(t *testing.T) {
	b := NewBuffer()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")

	first := b.FindCRLF()
	require.NotEqual(t, -1, first)
	assert.Equal(t, "GET / HTTP/1.1", string(b.Peek()[:first]))

	second := b.FindCRLFFrom(first + 2)
	require.NotEqual(t, -1, second)
	assert.Equal(t, "Host: x", string(b.Peek()[first+2:second]))

	assert.Equal(t, -1, b.FindCRLFFrom(second+2))
}

func TestBufferShrinkDropsExcessCapacity(t *testing.T) {
	b := NewBufferSize(1 << 20)
	b.AppendString("small")
	b.Shrink(0)
	assert.Equal(t, "small", string(b.Peek()))
	assert.True(t, len(b.buf) < 1<<20)
}
