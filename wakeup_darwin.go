//go:build darwin

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pipeWakeup is the Darwin stand-in for eventfd: a non-blocking
// self-pipe whose readable state the kqueue Poller reports exactly
// like any other channel.
type pipeWakeup struct {
	readFD, writeFD int
}

func newWakeupSource() (wakeupSource, error) {
	var pair [2]int
	if err := unix.Pipe2(pair[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "pipe2")
	}
	return &pipeWakeup{readFD: pair[0], writeFD: pair[1]}, nil
}

func (w *pipeWakeup) fd() int { return w.readFD }

func (w *pipeWakeup) wake() {
	var buf [1]byte
	if _, err := unix.Write(w.writeFD, buf[:]); err != nil && err != unix.EAGAIN {
		Log.WithError(err).Warn("wakeup pipe write failed")
	}
}

func (w *pipeWakeup) consume() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.readFD, buf[:])
		if err != nil {
			break
		}
	}
}

func (w *pipeWakeup) close() error {
	unix.Close(w.writeFD)
	return unix.Close(w.readFD)
}
