package reactor

import "errors"

var (
	// ErrLoopClosed is returned by EventLoop.Close when the loop has
	// already been closed.
	ErrLoopClosed = errors.New("reactor: event loop closed")
	// ErrTimerNotFound means the timer id is unknown to the TimerQueue,
	// either because it already fired or was already cancelled.
	ErrTimerNotFound = errors.New("reactor: timer not found")
	// ErrConnClosed means an operation was attempted on a TcpConnection
	// that is not in the connected state.
	ErrConnClosed = errors.New("reactor: connection closed")
	// ErrNotInLoopThread means an in-loop-only operation was invoked
	// from a goroutine other than the one running EventLoop.Loop.
	ErrNotInLoopThread = errors.New("reactor: operation invoked outside owning goroutine")
	// ErrDuplicateLoop means a second EventLoop was constructed on a
	// goroutine that already owns one.
	ErrDuplicateLoop = errors.New("reactor: another event loop already owns this thread")
)
