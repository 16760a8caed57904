package reactor

import (
	"container/heap"
	"time"
)

// TimerID identifies a scheduled Timer for cancellation. It is the
// timer's creation sequence number, which is already globally unique
// and monotonic, so it doubles as muduo's (pointer, sequence) pair
// collapsed into one value.
type TimerID int64

// timerHeap orders Timers by deadline, breaking ties by sequence so
// FIFO order holds among timers sharing a deadline. Grounded on gaio's
// timedHeap/aiocb.idx: each Timer carries its own heap index so
// cancellation can heap.Remove in O(log n) without a linear scan.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// TimerQueue is the single-threaded (loop-affine) store of every timer
// scheduled on an EventLoop. It re-arms one kernel timer descriptor to
// the earliest outstanding deadline rather than keeping one descriptor
// per timer. See spec §4.4; grounded on muduo's TimerQueue.cc for the
// two-index design and cancellation race handling, gaio's timedHeap
// for the Go-idiomatic heap mechanics.
type TimerQueue struct {
	loop *EventLoop

	heap   timerHeap
	active map[TimerID]*Timer

	// cancelling holds timer ids cancelled from within their own expiry
	// callback (i.e. before handleExpire's reset pass runs); it
	// prevents reset from re-arming a timer whose callback already
	// cancelled it, mirroring muduo's cancelingTimers_.
	cancelling map[TimerID]bool
	expiring   bool

	source  timerSource
	channel *Channel
}

// newTimerQueue constructs a TimerQueue bound to loop's kernel timer
// source (timerfd on Linux, a self-pipe timer goroutine on Darwin).
func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	src, err := newTimerSource()
	if err != nil {
		return nil, err
	}
	tq := &TimerQueue{
		loop:       loop,
		active:     make(map[TimerID]*Timer),
		cancelling: make(map[TimerID]bool),
		source:     src,
	}
	tq.channel = newChannel(loop, src.fd())
	tq.channel.SetReadCallback(tq.handleExpire)
	tq.channel.EnableReading()
	return tq, nil
}

func (tq *TimerQueue) close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	return tq.source.close()
}

// schedule is the cross-thread-safe entry point: the Timer (and its
// id) is constructed immediately on the calling goroutine, exactly as
// muduo's TimerQueue::addTimer does, and only the actual heap
// insertion is deferred onto the loop. This lets RunAt/RunAfter/
// RunEvery return a usable TimerID without blocking on the loop.
func (tq *TimerQueue) schedule(loop *EventLoop, cb TimerCallback, deadline time.Time, interval time.Duration) TimerID {
	t := newTimer(cb, deadline, interval)
	loop.RunInLoop(func() { tq.insertTimer(t) })
	return TimerID(t.sequence)
}

func (tq *TimerQueue) insertTimer(t *Timer) {
	earliestChanged := len(tq.heap) == 0 || t.deadline.Before(tq.heap[0].deadline)
	heap.Push(&tq.heap, t)
	tq.active[TimerID(t.sequence)] = t
	if earliestChanged {
		tq.source.reset(t.deadline)
	}
}

// cancel removes a pending timer, reporting ErrTimerNotFound if id is
// unknown (already fired or already cancelled). A timer still present
// in active (the secondary index) is erased from both indexes right
// away, whether or not handleExpire is mid-callback, since popExpired
// has already pulled any currently-firing timer out of active before
// invoking its callback; only an id absent from active while expiring
// is the timer currently firing, recorded in cancelling so the reset
// pass below doesn't re-arm it.
func (tq *TimerQueue) cancel(id TimerID) error {
	if t, ok := tq.active[id]; ok {
		delete(tq.active, id)
		if t.heapIndex >= 0 && t.heapIndex < len(tq.heap) {
			heap.Remove(&tq.heap, t.heapIndex)
		}
		return nil
	}
	if tq.expiring {
		tq.cancelling[id] = true
		return nil
	}
	return ErrTimerNotFound
}

// handleExpire is the timer source's read callback: it drains the
// kernel notification, pops every timer due at or before now, invokes
// each callback, then re-arms repeating timers that weren't cancelled
// from within their own callback.
func (tq *TimerQueue) handleExpire(now time.Time) {
	tq.source.consume()

	expired := tq.popExpired(now)

	tq.expiring = true
	for _, t := range expired {
		t.callback()
	}
	tq.expiring = false

	for _, t := range expired {
		id := TimerID(t.sequence)
		if tq.cancelling[id] {
			delete(tq.cancelling, id)
			continue
		}
		if t.Repeating() {
			t.restart(now)
			tq.insertTimer(t)
		}
	}

	if next := tq.nextExpiration(); !next.IsZero() {
		tq.source.reset(next)
	}
}

// popExpired removes and returns every timer whose deadline is <= now,
// in deadline order, erasing each from active as it comes off the heap
// so that a callback cancelling its own timer finds it already gone
// from the secondary index (mirroring muduo's getExpired erasing
// activeTimers_ up front, before any callback runs).
func (tq *TimerQueue) popExpired(now time.Time) []*Timer {
	var expired []*Timer
	for len(tq.heap) > 0 && !tq.heap[0].deadline.After(now) {
		t := heap.Pop(&tq.heap).(*Timer)
		delete(tq.active, TimerID(t.sequence))
		expired = append(expired, t)
	}
	return expired
}

func (tq *TimerQueue) nextExpiration() time.Time {
	if len(tq.heap) == 0 {
		return time.Time{}
	}
	return tq.heap[0].deadline
}
