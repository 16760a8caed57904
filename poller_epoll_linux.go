//go:build linux

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller implements poller with epoll_create1/epoll_ctl/epoll_wait,
// grounded on the gaio pfd.Watch/pfd.Wait shape (a platform poller
// struct returning batched events) and
// other_examples/06e0c1fd_walkon-gnet__server_unix.go.go's
// internal.Poll for the concrete epoll idiom gaio's retrieved files
// didn't themselves include.
type epollPoller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, 128),
		channels: make(map[int]*Channel),
	}, nil
}

func interestToEpoll(i pollEvent) uint32 {
	var e uint32
	if i&eventReadable != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	}
	if i&eventWritable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToInterest(raw uint32) pollEvent {
	var e pollEvent
	if raw&unix.EPOLLIN != 0 {
		e |= eventReadable
	}
	if raw&unix.EPOLLPRI != 0 {
		e |= eventPriority
	}
	if raw&unix.EPOLLOUT != 0 {
		e |= eventWritable
	}
	if raw&unix.EPOLLHUP != 0 {
		e |= eventHangup
	}
	if raw&unix.EPOLLRDHUP != 0 {
		e |= eventReadHup
	}
	if raw&unix.EPOLLERR != 0 {
		e |= eventError
	}
	return e
}

func (p *epollPoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	msec := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.revents = epollToInterest(ev.Events)
		*active = append(*active, ch)
	}
	return now, nil
}

func (p *epollPoller) updateChannel(ch *Channel) error {
	switch ch.state {
	case channelNew, channelDeleted:
		// a deleted channel was EPOLL_CTL_DEL'd below, so both cases ADD.
		ch.state = channelAdded
		p.channels[ch.fd] = ch
		ev := unix.EpollEvent{Events: interestToEpoll(ch.interest), Fd: int32(ch.fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, ch.fd, &ev); err != nil {
			return errors.Wrapf(err, "epoll_ctl fd=%d", ch.fd)
		}
	case channelAdded:
		if ch.IsNoneEvent() {
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, ch.fd, nil); err != nil {
				return errors.Wrapf(err, "epoll_ctl del fd=%d", ch.fd)
			}
			ch.state = channelDeleted
		} else {
			ev := unix.EpollEvent{Events: interestToEpoll(ch.interest), Fd: int32(ch.fd)}
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, ch.fd, &ev); err != nil {
				return errors.Wrapf(err, "epoll_ctl mod fd=%d", ch.fd)
			}
		}
	}
	return nil
}

func (p *epollPoller) removeChannel(ch *Channel) error {
	delete(p.channels, ch.fd)
	if ch.state == channelAdded {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, ch.fd, nil); err != nil {
			return errors.Wrapf(err, "epoll_ctl del fd=%d", ch.fd)
		}
	}
	ch.state = channelNew
	return nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
