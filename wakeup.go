package reactor

// wakeupSource lets RunInLoop/QueueInLoop break a blocked poll() call
// from another goroutine: eventfd on Linux, a self-pipe on Darwin.
// See spec §4.5.
type wakeupSource interface {
	fd() int
	wake()
	consume()
	close() error
}
