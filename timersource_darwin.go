//go:build darwin

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pipeTimerSource stands in for a kernel timer descriptor on Darwin,
// where kqueue's EVFILT_TIMER is a kevent filter rather than an
// fd-shaped object: a goroutine parks on time.After and writes a
// sentinel byte count into a non-blocking self-pipe on expiry, so the
// rest of TimerQueue can treat the timer exactly like timerfd on
// Linux — a descriptor that becomes readable when due.
type pipeTimerSource struct {
	readFD, writeFD int
	resetCh         chan time.Time
	closeCh         chan struct{}
}

func newTimerSource() (timerSource, error) {
	var pair [2]int
	if err := unix.Pipe2(pair[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "pipe2")
	}
	s := &pipeTimerSource{
		readFD:  pair[0],
		writeFD: pair[1],
		resetCh: make(chan time.Time, 1),
		closeCh: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *pipeTimerSource) run() {
	var fire <-chan time.Time
	for {
		select {
		case d, ok := <-s.resetCh:
			if !ok {
				return
			}
			wait := time.Until(d)
			if wait < time.Microsecond*100 {
				wait = time.Microsecond * 100
			}
			fire = time.After(wait)
		case <-fire:
			fire = nil
			var buf [8]byte
			buf[0] = 1
			unix.Write(s.writeFD, buf[:])
		case <-s.closeCh:
			return
		}
	}
}

func (s *pipeTimerSource) fd() int { return s.readFD }

func (s *pipeTimerSource) reset(deadline time.Time) {
	select {
	case <-s.resetCh:
	default:
	}
	s.resetCh <- deadline
}

func (s *pipeTimerSource) consume() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.readFD, buf[:])
		if err != nil {
			break
		}
	}
}

func (s *pipeTimerSource) close() error {
	close(s.closeCh)
	unix.Close(s.writeFD)
	return unix.Close(s.readFD)
}
