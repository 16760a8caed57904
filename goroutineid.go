package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's id from its own stack
// trace. Go deliberately exposes no public goroutine-id primitive, so
// this is the one piece of EventLoop's thread-affinity enforcement
// with no direct precedent in the retrieved pack: muduo's
// t_loopInThisThread check compares pthread's thread id, and this is
// the closest Go equivalent. It backs every thread-affinity decision:
// assertInLoopThread, the run-now-or-queue choice in RunInLoop and
// QueueInLoop, and the one-loop-per-goroutine registry.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
