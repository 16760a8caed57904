package reactor

import (
	"time"
)

// event bitmask, mirrors epoll/kqueue readiness bits translated by the
// active Poller backend.
type pollEvent uint32

const (
	eventNone      pollEvent = 0
	eventReadable  pollEvent = 1 << 0
	eventWritable  pollEvent = 1 << 1
	eventPriority  pollEvent = 1 << 2 // e.g. EPOLLPRI / out-of-band
	eventHangup    pollEvent = 1 << 3 // EPOLLHUP
	eventReadHup   pollEvent = 1 << 4 // EPOLLRDHUP: peer closed, data may remain
	eventError     pollEvent = 1 << 5
	noneInterest             = eventNone
	readInterest             = eventReadable
	writeInterest            = eventWritable
	bothInterest             = eventReadable | eventWritable
)

// channelState tracks a Channel's registration with its Poller: new
// (never registered), added (present in the kernel set), deleted
// (previously added, currently unarmed but remembered so re-adding is
// cheap). See spec §4.2.
type channelState int

const (
	channelNew channelState = iota
	channelAdded
	channelDeleted
)

// ReadCallback is invoked with the data-ready timestamp on a readable
// (or priority, or peer-closed-with-data) event.
type ReadCallback func(receiveTime time.Time)

// Channel binds one file descriptor to an interest mask, the
// last-observed event mask, and per-event callbacks. It does not own
// the descriptor; closing it is the caller's responsibility. See
// spec §3/§4.3.
type Channel struct {
	loop *EventLoop
	fd   int

	interest pollEvent
	revents  pollEvent
	state    channelState
	index    int // backend-specific bookkeeping slot (e.g. epoll array index)

	readCallback  ReadCallback
	writeCallback func()
	closeCallback func()
	errorCallback func()

	tied    bool
	tieFunc func() (release func(), ok bool)

	eventHandling bool
	addedToLoop   bool
}

// newChannel constructs a Channel owned by loop for fd. fd is not
// registered with the Poller until EnableReading/EnableWriting is
// called.
func newChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, state: channelNew}
}

// NewChannel is the exported form of newChannel, for callers outside
// this package that own a raw descriptor directly, such as a
// TcpServer's listening socket.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return newChannel(loop, fd)
}

// FD returns the underlying descriptor.
func (c *Channel) FD() int { return c.fd }

// SetReadCallback installs the read handler.
func (c *Channel) SetReadCallback(cb ReadCallback) { c.readCallback = cb }

// SetWriteCallback installs the write handler.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the close handler.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the error handler.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie attaches an owner guard that handleEvent calls before
// dispatching: if it reports false the event is dropped, otherwise the
// returned release func (may be a no-op) runs once dispatch finishes.
// TcpConnection uses it to skip events that arrive after it has been
// torn down. upgrade must return false if the owner is already gone.
func (c *Channel) Tie(upgrade func() (release func(), ok bool)) {
	c.tieFunc = upgrade
	c.tied = true
}

func (c *Channel) update() {
	c.addedToLoop = true
	if err := c.loop.updateChannel(c); err != nil {
		Log.WithError(err).WithField("fd", c.fd).Warn("reactor: failed to update channel interest")
	}
}

// EnableReading arms read interest and syncs with the Poller.
func (c *Channel) EnableReading() {
	c.interest |= eventReadable
	c.update()
}

// DisableReading clears read interest.
func (c *Channel) DisableReading() {
	c.interest &^= eventReadable
	c.update()
}

// EnableWriting arms write interest and syncs with the Poller.
func (c *Channel) EnableWriting() {
	c.interest |= eventWritable
	c.update()
}

// DisableWriting clears write interest.
func (c *Channel) DisableWriting() {
	c.interest &^= eventWritable
	c.update()
}

// DisableAll clears every interest bit.
func (c *Channel) DisableAll() {
	c.interest = eventNone
	c.update()
}

// IsWriting reports whether write interest is currently armed.
func (c *Channel) IsWriting() bool { return c.interest&eventWritable != 0 }

// IsReading reports whether read interest is currently armed.
func (c *Channel) IsReading() bool { return c.interest&eventReadable != 0 }

// IsNoneEvent reports whether no interest is armed at all.
func (c *Channel) IsNoneEvent() bool { return c.interest == eventNone }

// Remove unregisters the channel from its loop's Poller. The caller
// must have already disabled all interest (mirrors muduo's assertion
// that a channel can't be removed while still armed).
func (c *Channel) Remove() {
	if err := c.loop.removeChannel(c); err != nil {
		Log.WithError(err).WithField("fd", c.fd).Warn("reactor: failed to remove channel")
	}
}

// handleEvent dispatches the last-observed event mask to the
// appropriate callback(s), applying the precedence rules from spec
// §4.3: hangup-without-data -> close; error bits -> error;
// readable/priority/peer-closed-with-data -> read; writable -> write.
// Hangup/error are not mutually exclusive with read: if the peer
// closed but bytes remain, read still runs, and the follow-up
// ReadFD()==0 drives the close path itself.
func (c *Channel) handleEvent(receiveTime time.Time) {
	var release func()
	if c.tied {
		r, ok := c.tieFunc()
		if !ok {
			return
		}
		release = r
	}
	if release != nil {
		defer release()
	}

	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&eventHangup != 0 && c.revents&eventReadable == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&eventError != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(eventReadable|eventPriority|eventReadHup) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&eventWritable != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
