package reactor

import (
	"sync/atomic"
	"time"
)

// TimerCallback is invoked when a Timer expires.
type TimerCallback func()

var timerSequenceCounter int64

func nextTimerSequence() int64 {
	return atomic.AddInt64(&timerSequenceCounter, 1)
}

// Timer is an immutable (callback, deadline, interval) triple plus a
// monotonically increasing sequence number that breaks ties between
// timers sharing a deadline and gives TimerQueue a stable identity to
// cancel by. See spec §4.4.
type Timer struct {
	callback TimerCallback
	deadline time.Time
	interval time.Duration // zero means one-shot
	sequence int64
	heapIndex int // position in timerHeap, maintained by heap.Interface.Swap
}

// newTimer constructs a Timer due at deadline, repeating every
// interval if interval > 0.
func newTimer(cb TimerCallback, deadline time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback: cb,
		deadline: deadline,
		interval: interval,
		sequence: nextTimerSequence(),
	}
}

// Repeating reports whether the timer re-arms itself after firing.
func (t *Timer) Repeating() bool { return t.interval > 0 }

// restart advances deadline by one interval from now, for repeating
// timers. Callers must not call this on a one-shot timer.
func (t *Timer) restart(now time.Time) {
	t.deadline = now.Add(t.interval)
}
