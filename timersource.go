package reactor

import "time"

// timerSource is the single kernel timer descriptor a TimerQueue
// re-arms to its earliest deadline, abstracting timerfd (Linux) vs a
// self-pipe timer goroutine (Darwin) behind one fd-shaped interface so
// TimerQueue itself stays platform-neutral. See spec §4.4/§6.
type timerSource interface {
	// fd is the descriptor TimerQueue registers a read-interest
	// Channel on.
	fd() int
	// reset re-arms the source to fire at deadline, replacing any
	// previously armed expiration.
	reset(deadline time.Time)
	// consume drains the expiry notification so the descriptor stops
	// reporting readable.
	consume()
	close() error
}
