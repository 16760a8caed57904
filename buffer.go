package reactor

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

const (
	// cheapPrepend is the reserved prefix that lets a sender stamp a
	// length header in front of an already-built payload without
	// copying the payload itself.
	cheapPrepend = 8
	initialSize  = 1024
	// extraBufSize is the scratch segment readFd uses for the second
	// half of its scatter/gather read, avoiding a pre-read ioctl(FIONREAD).
	extraBufSize = 65536
)

var crlf = []byte("\r\n")

// ErrPrependTooLarge is the panic value raised when Prepend is asked
// to write more bytes than PrependableBytes() allows.
var ErrPrependTooLarge = errors.New("reactor: prepend exceeds prependable bytes")

// Buffer is a resizable byte region split into three adjacent regions
// by two cursors, read and write: [0,read) is prependable, [read,write)
// is readable content, [write,size) is writable tail. See spec §3/§4.1.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// NewBuffer returns a Buffer with the default initial capacity and
// prepend reserve.
func NewBuffer() *Buffer {
	return NewBufferSize(initialSize)
}

// NewBufferSize returns a Buffer whose writable tail starts at least
// initialSize bytes, plus the cheap-prepend reserve.
func NewBufferSize(initialSize int) *Buffer {
	b := &Buffer{
		buf: make([]byte, cheapPrepend+initialSize),
	}
	b.read = cheapPrepend
	b.write = cheapPrepend
	return b
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.write - b.read }

// WritableBytes returns the number of bytes Append can add without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.write }

// PrependableBytes returns the number of bytes Prepend can add without
// shifting content.
func (b *Buffer) PrependableBytes() int { return b.read }

// Peek returns the readable region without advancing the read cursor.
// The returned slice aliases the buffer; callers must not retain it
// past the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.read:b.write] }

// Retrieve advances the read cursor by n, n <= ReadableBytes(). If n
// consumes everything readable, both cursors reset to the prepend
// reserve so later appends reuse the freed space.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.read += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll resets both cursors to the prepend reserve, discarding
// all readable content.
func (b *Buffer) RetrieveAll() {
	b.read = cheapPrepend
	b.write = cheapPrepend
}

// RetrieveAsString copies n bytes starting at Peek into a new string
// and retrieves them.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.read : b.read+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString retrieves and returns the entire readable region.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append copies data onto the writable tail, growing or compacting the
// backing storage first if necessary (see makeSpace).
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.write:], data)
	b.write += len(data)
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace implements the "compact when possible, grow otherwise"
// strategy: if the writable tail plus the prependable-beyond-reserve
// region together hold n bytes, readable content is shifted down to
// the reserve boundary; otherwise the backing array grows to write+n.
// Shrinking is never done reactively; see Shrink for the explicit op.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+cheapPrepend {
		buf := make([]byte, b.write+n)
		copy(buf, b.buf[:b.write])
		b.buf = buf
	} else {
		readable := b.ReadableBytes()
		copy(b.buf[cheapPrepend:], b.buf[b.read:b.write])
		b.read = cheapPrepend
		b.write = b.read + readable
	}
}

// Prepend writes data into the freed prefix immediately before the
// readable region, decrementing the read cursor. len(data) must be <=
// PrependableBytes(). This is the primitive that makes length-prefixed
// framing zero-copy on send.
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.PrependableBytes() {
		panic(ErrPrependTooLarge)
	}
	b.read -= len(data)
	copy(b.buf[b.read:], data)
}

// Shrink copies the readable region into a freshly sized buffer with
// the given extra reserve, releasing any excess capacity. Unlike
// makeSpace this is never triggered automatically.
func (b *Buffer) Shrink(reserve int) {
	other := NewBufferSize(b.ReadableBytes() + reserve)
	other.Append(b.Peek())
	*b = *other
}

// AppendInt32 serializes x in network byte order onto the tail.
func (b *Buffer) AppendInt32(x int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(x))
	b.Append(tmp[:])
}

// AppendInt16 serializes x in network byte order onto the tail.
func (b *Buffer) AppendInt16(x int16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(x))
	b.Append(tmp[:])
}

// AppendInt8 appends a single byte.
func (b *Buffer) AppendInt8(x int8) {
	b.Append([]byte{byte(x)})
}

// PeekInt32 decodes the first 4 readable bytes as network-order int32
// without advancing the read cursor. Requires ReadableBytes() >= 4.
func (b *Buffer) PeekInt32() int32 {
	return int32(binary.BigEndian.Uint32(b.buf[b.read:]))
}

// PeekInt16 decodes the first 2 readable bytes as network-order int16.
func (b *Buffer) PeekInt16() int16 {
	return int16(binary.BigEndian.Uint16(b.buf[b.read:]))
}

// PeekInt8 returns the first readable byte.
func (b *Buffer) PeekInt8() int8 {
	return int8(b.buf[b.read])
}

// ReadInt32 decodes and retrieves a network-order int32.
func (b *Buffer) ReadInt32() int32 {
	x := b.PeekInt32()
	b.Retrieve(4)
	return x
}

// ReadInt16 decodes and retrieves a network-order int16.
func (b *Buffer) ReadInt16() int16 {
	x := b.PeekInt16()
	b.Retrieve(2)
	return x
}

// ReadInt8 retrieves a single byte.
func (b *Buffer) ReadInt8() int8 {
	x := b.PeekInt8()
	b.Retrieve(1)
	return x
}

// PrependInt32 stamps a network-order int32 header in front of the
// readable content.
func (b *Buffer) PrependInt32(x int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(x))
	b.Prepend(tmp[:])
}

// PrependInt16 stamps a network-order int16 header.
func (b *Buffer) PrependInt16(x int16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(x))
	b.Prepend(tmp[:])
}

// PrependInt8 stamps a single byte header.
func (b *Buffer) PrependInt8(x int8) {
	b.Prepend([]byte{byte(x)})
}

// FindCRLF searches the entire readable region for "\r\n" and returns
// its offset from Peek(), or -1 if not found.
func (b *Buffer) FindCRLF() int {
	return b.FindCRLFFrom(0)
}

// FindCRLFFrom searches [Peek()+from, write) for "\r\n", returning an
// offset from Peek(), or -1 if not found. from must be in
// [0, ReadableBytes()].
func (b *Buffer) FindCRLFFrom(from int) int {
	region := b.buf[b.read+from : b.write]
	for i := 0; i+1 < len(region); i++ {
		if region[i] == crlf[0] && region[i+1] == crlf[1] {
			return from + i
		}
	}
	return -1
}

// ReadFD performs a scattered read from fd: one segment is the
// writable tail, the other is a stack-sized scratch buffer, so a
// large inbound read doesn't require pre-growing the buffer and no
// FIONREAD ioctl is needed to size the read. If the kernel fills no
// more than the writable tail, the write cursor simply advances;
// otherwise the tail is filled and the scratch overflow is appended
// (which may itself grow or compact the buffer).
func (b *Buffer) ReadFD(fd int) (int, error) {
	var extra [extraBufSize]byte
	writable := b.WritableBytes()

	n, err := unix.Readv(fd, [][]byte{b.buf[b.write:], extra[:]})
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.write += n
	} else {
		b.write = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}
