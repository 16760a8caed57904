package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// pollTimeout bounds how long one iteration's poll() call may block,
// so a loop with no armed descriptors still wakes periodically (spec
// §4.5). muduo uses the same 10s figure in EventLoop::loop.
const pollTimeout = 10 * time.Second

// loopRegistry is the process-wide "at most one EventLoop per thread"
// slot (spec §4.5), keyed by goroutine id since Go has no thread
// handle to hang a member variable off of the way muduo's
// t_loopInThisThread does.
var (
	loopRegistryMu sync.Mutex
	loopRegistry   = make(map[int64]bool)
)

// EventLoop is a single-goroutine reactor: one Poller, one TimerQueue,
// a wake-up descriptor, and a pending-task queue that lets other
// goroutines schedule work onto it safely. Every Channel, Timer and
// TcpConnection belongs to exactly one EventLoop and must only be
// touched from the goroutine running that loop's Loop(), enforced by
// assertInLoopThread. Grounded on gaio's watcher.loop() select-loop
// (pending-notify / event-notify / timer / die, all multiplexed)
// adapted from async-completion to synchronous readiness dispatch,
// and on muduo's EventLoop.cc for doPendingFunctors/runInLoop/
// queueInLoop and the thread-affinity assertion. See spec §4.5.
//
// Unlike muduo, where EventLoop is constructed on the very thread that
// will run it, the natural Go idiom is to construct an EventLoop and
// hand it to a freshly spawned goroutine via `go loop.Loop()`. So the
// owning goroutine is recorded when Loop() actually starts running,
// not at construction time; loopGoroutine is an atomic.Int64 because
// Loop()'s write and other goroutines' concurrent IsInLoopThread reads
// are otherwise unsynchronized.
type EventLoop struct {
	loopGoroutine atomic.Int64
	// constructedOnGoroutine is fixed at NewEventLoop time and only
	// ever used to release this loop's loopRegistry slot in Close,
	// independent of whichever goroutine later calls Loop.
	constructedOnGoroutine int64

	poller        poller
	timerQueue    *TimerQueue
	wakeup        wakeupSource
	wakeupChannel *Channel

	mu                     sync.Mutex
	pendingFunctors        []func()
	callingPendingFunctors bool

	looping       bool
	quit          bool
	eventHandling bool
	closed        bool

	activeChannels []*Channel
}

// NewEventLoop constructs an EventLoop provisionally owned by the
// calling goroutine; Loop() may be called from any goroutine, which
// then becomes the owner. Constructing a
// second EventLoop on a goroutine that already owns one is fatal,
// mirroring muduo's EventLoop constructor aborting on
// t_loopInThisThread.
func NewEventLoop() (*EventLoop, error) {
	gid := goroutineID()
	loopRegistryMu.Lock()
	if loopRegistry[gid] {
		loopRegistryMu.Unlock()
		Log.WithError(ErrDuplicateLoop).WithField("goroutine", gid).Fatal("reactor: NewEventLoop called twice on the same goroutine")
	}
	loopRegistry[gid] = true
	loopRegistryMu.Unlock()

	p, err := newPoller()
	if err != nil {
		loopRegistryMu.Lock()
		delete(loopRegistry, gid)
		loopRegistryMu.Unlock()
		return nil, err
	}
	wk, err := newWakeupSource()
	if err != nil {
		p.close()
		loopRegistryMu.Lock()
		delete(loopRegistry, gid)
		loopRegistryMu.Unlock()
		return nil, err
	}

	loop := &EventLoop{
		constructedOnGoroutine: gid,
		poller:                 p,
		wakeup:                 wk,
	}
	// Until Loop() actually runs, the constructing goroutine is treated
	// as the owner, so RunInLoop/QueueInLoop called before `go
	// loop.Loop()` still run synchronously rather than queuing forever.
	// Loop() overwrites this with its own goroutine id the moment it
	// starts.
	loop.loopGoroutine.Store(gid)

	tq, err := newTimerQueue(loop)
	if err != nil {
		wk.close()
		p.close()
		loopRegistryMu.Lock()
		delete(loopRegistry, gid)
		loopRegistryMu.Unlock()
		return nil, err
	}
	loop.timerQueue = tq

	loop.wakeupChannel = newChannel(loop, wk.fd())
	loop.wakeupChannel.SetReadCallback(func(time.Time) { wk.consume() })
	loop.wakeupChannel.EnableReading()

	return loop, nil
}

// IsInLoopThread reports whether the calling goroutine is the one
// that owns this loop.
func (l *EventLoop) IsInLoopThread() bool {
	return goroutineID() == l.loopGoroutine.Load()
}

func (l *EventLoop) assertInLoopThread() {
	if !l.IsInLoopThread() {
		Log.WithError(ErrNotInLoopThread).WithFields(logrus.Fields{
			"owner":  l.loopGoroutine.Load(),
			"caller": goroutineID(),
		}).Fatal("reactor: EventLoop method called from a foreign goroutine")
	}
}

// Loop runs the reactor until Quit is called. It claims ownership for
// whichever goroutine calls it — the idiomatic Go usage is to
// construct the EventLoop on one goroutine and hand it to another via
// `go loop.Loop()` — so every in-loop assertion from here on measures
// against the goroutine actually running the loop, not the one that
// built it.
func (l *EventLoop) Loop() {
	l.loopGoroutine.Store(goroutineID())
	l.looping = true
	l.quit = false

	Log.Debug("reactor: EventLoop started")

	for !l.quit {
		l.activeChannels = l.activeChannels[:0]
		now, err := l.poller.poll(pollTimeout, &l.activeChannels)
		if err != nil {
			Log.WithError(err).Warn("reactor: poll failed")
		}

		l.eventHandling = true
		for _, ch := range l.activeChannels {
			ch.handleEvent(now)
		}
		l.eventHandling = false

		l.doPendingFunctors()
	}

	Log.Debug("reactor: EventLoop stopped")
	l.looping = false
}

// Quit asks the loop to stop after its current iteration, waking it
// immediately if called from another goroutine.
func (l *EventLoop) Quit() {
	l.quit = true
	if !l.IsInLoopThread() {
		l.wakeup.wake()
	}
}

// RunInLoop runs fn on the loop's goroutine: immediately if already
// there, otherwise queued and the loop is woken.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.IsInLoopThread() {
		fn()
	} else {
		l.QueueInLoop(fn)
	}
}

// QueueInLoop always defers fn to the loop's pending-functor drain,
// which runs after an iteration's events have been handled. A fn
// queued from within a pending functor runs in the next iteration's
// drain, so the loop is woken for it, as it is for any call from
// another goroutine.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, fn)
	callingPending := l.callingPendingFunctors
	l.mu.Unlock()

	if !l.IsInLoopThread() || callingPending {
		l.wakeup.wake()
	}
}

// doPendingFunctors swaps the pending queue under lock, then runs it
// without the lock held, so functors that themselves call
// QueueInLoop don't deadlock or starve the producer side.
func (l *EventLoop) doPendingFunctors() {
	l.mu.Lock()
	l.callingPendingFunctors = true
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	for _, fn := range functors {
		fn()
	}

	l.mu.Lock()
	l.callingPendingFunctors = false
	l.mu.Unlock()
}

// RunAt schedules cb to run once at t.
func (l *EventLoop) RunAt(t time.Time, cb TimerCallback) TimerID {
	return l.timerQueue.schedule(l, cb, t, 0)
}

// RunAfter schedules cb to run once after d.
func (l *EventLoop) RunAfter(d time.Duration, cb TimerCallback) TimerID {
	return l.RunAt(time.Now().Add(d), cb)
}

// RunEvery schedules cb to run repeatedly every d, starting after d.
func (l *EventLoop) RunEvery(d time.Duration, cb TimerCallback) TimerID {
	return l.timerQueue.schedule(l, cb, time.Now().Add(d), d)
}

// Cancel cancels a previously scheduled timer. Safe from any goroutine.
// The returned error is only meaningful for callers already on the
// loop's goroutine; an off-loop caller races the timer's own firing
// and has no way to observe ErrTimerNotFound synchronously, matching
// muduo's fire-and-forget TimerQueue::cancel behavior.
func (l *EventLoop) Cancel(id TimerID) error {
	if l.IsInLoopThread() {
		return l.timerQueue.cancel(id)
	}
	l.QueueInLoop(func() { l.timerQueue.cancel(id) })
	return nil
}

// updateChannel synchronizes ch's interest with the Poller. Must be
// called from the owning loop's goroutine (Channel.update already
// guarantees this by only being reachable in-loop).
func (l *EventLoop) updateChannel(ch *Channel) error {
	l.assertInLoopThread()
	return l.poller.updateChannel(ch)
}

// removeChannel unregisters ch from the Poller.
func (l *EventLoop) removeChannel(ch *Channel) error {
	l.assertInLoopThread()
	return l.poller.removeChannel(ch)
}

// Close releases the loop's kernel resources (Poller, TimerQueue,
// wake-up descriptor) and frees this goroutine's slot in the
// one-loop-per-thread registry so it may construct a new EventLoop
// later. Call only after Loop has returned. A second call returns
// ErrLoopClosed without touching already-released resources again.
func (l *EventLoop) Close() error {
	if l.closed {
		return ErrLoopClosed
	}
	l.closed = true
	// Loop has returned, so the closing goroutine takes ownership for
	// the channel teardown below, which asserts in-loop affinity.
	l.loopGoroutine.Store(goroutineID())

	loopRegistryMu.Lock()
	delete(loopRegistry, l.constructedOnGoroutine)
	loopRegistryMu.Unlock()

	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	if err := l.wakeup.close(); err != nil {
		return err
	}
	if err := l.timerQueue.close(); err != nil {
		return err
	}
	return l.poller.close()
}
