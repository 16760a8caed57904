//go:build darwin

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller implements poller on Darwin with kqueue/kevent,
// grounded on the same gaio pfd.Watch/pfd.Wait shape as the epoll
// backend and other_examples' evio/gnet kqueue loops for the concrete
// EV_SET idiom. Scoped to Darwin only: unix.Kevent_t's field widths
// (Ident/Filter/Flags) vary across the wider BSD family in ways this
// exercise can't verify without a build on each OS (see DESIGN.md).
type kqueuePoller struct {
	kq         int
	events     []unix.Kevent_t
	channels   map[int]*Channel
	registered map[int]pollEvent // last interest mask actually registered per fd
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &kqueuePoller{
		kq:         kq,
		events:     make([]unix.Kevent_t, 128),
		channels:   make(map[int]*Channel),
		registered: make(map[int]pollEvent),
	}, nil
}

func (p *kqueuePoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(p.kq, nil, p.events, &ts)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, errors.Wrap(err, "kevent wait")
	}
	seen := make(map[int]pollEvent, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		seen[fd] |= kqueueToInterest(ev)
	}
	for fd, revents := range seen {
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.revents = revents
		*active = append(*active, ch)
	}
	return now, nil
}

func kqueueToInterest(ev unix.Kevent_t) pollEvent {
	var e pollEvent
	switch ev.Filter {
	case unix.EVFILT_READ:
		e |= eventReadable
	case unix.EVFILT_WRITE:
		e |= eventWritable
	}
	if ev.Flags&unix.EV_EOF != 0 {
		e |= eventReadHup
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		e |= eventError
	}
	return e
}

// changeList diffs ch.interest against the mask last actually
// registered for ch.fd, emitting only the filters that actually
// changed: registering a DELETE for a filter kqueue never saw would
// fail with ENOENT.
func (p *kqueuePoller) changeList(ch *Channel) []unix.Kevent_t {
	prev := p.registered[ch.fd]
	var changes []unix.Kevent_t
	appendIfChanged := func(filter int16, bit pollEvent) {
		now := ch.interest&bit != 0
		was := prev&bit != 0
		if now == was {
			return
		}
		flags := uint16(unix.EV_DELETE)
		if now {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(ch.fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	appendIfChanged(unix.EVFILT_READ, eventReadable)
	appendIfChanged(unix.EVFILT_WRITE, eventWritable)
	p.registered[ch.fd] = ch.interest & (eventReadable | eventWritable)
	return changes
}

func (p *kqueuePoller) updateChannel(ch *Channel) error {
	switch ch.state {
	case channelNew:
		p.channels[ch.fd] = ch
		ch.state = channelAdded
	case channelDeleted:
		p.channels[ch.fd] = ch
		ch.state = channelAdded
	}
	changes := p.changeList(ch)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return errors.Wrapf(err, "kevent register fd=%d", ch.fd)
	}
	if ch.IsNoneEvent() {
		ch.state = channelDeleted
	}
	return nil
}

func (p *kqueuePoller) removeChannel(ch *Channel) error {
	delete(p.channels, ch.fd)
	delete(p.registered, ch.fd)
	ch.state = channelNew
	return nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
