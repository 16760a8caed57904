//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// eventfdWakeup wraps a Linux eventfd in counter mode, the same
// mechanism muduo uses for its wakeupFd_.
type eventfdWakeup struct {
	efd int
}

func newWakeupSource() (wakeupSource, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}
	return &eventfdWakeup{efd: efd}, nil
}

func (w *eventfdWakeup) fd() int { return w.efd }

func (w *eventfdWakeup) wake() {
	var buf [8]byte
	buf[7] = 1
	if _, err := unix.Write(w.efd, buf[:]); err != nil && err != unix.EAGAIN {
		Log.WithError(err).Warn("eventfd write failed")
	}
}

func (w *eventfdWakeup) consume() {
	var buf [8]byte
	if _, err := unix.Read(w.efd, buf[:]); err != nil && err != unix.EAGAIN {
		Log.WithError(err).Debug("eventfd read failed")
	}
}

func (w *eventfdWakeup) close() error {
	return unix.Close(w.efd)
}
