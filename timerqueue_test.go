package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop
}

func TestTimerQueueFiresInDeadlineOrder(t *testing.T) {
	loop := newTestLoop(t)

	var order []int
	done := make(chan struct{})

	loop.RunAfter(30*time.Millisecond, func() {
		order = append(order, 3)
	})
	loop.RunAfter(10*time.Millisecond, func() {
		order = append(order, 1)
	})
	loop.RunAfter(20*time.Millisecond, func() {
		order = append(order, 2)
		loop.RunAfter(20*time.Millisecond, func() { close(done) })
	})

	go loop.Loop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers never fired")
	}
	loop.Quit()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerQueueCancelPreventsFiring(t *testing.T) {
	loop := newTestLoop(t)

	fired := make(chan struct{}, 1)
	id := loop.RunAfter(20*time.Millisecond, func() {
		fired <- struct{}{}
	})
	marker := make(chan struct{})
	loop.RunAfter(5*time.Millisecond, func() {
		loop.Cancel(id)
		close(marker)
	})

	go loop.Loop()
	defer loop.Quit()

	<-marker
	select {
	case <-fired:
		t.Fatal("cancelled timer fired anyway")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerQueueRepeatingTimerCardinality(t *testing.T) {
	loop := newTestLoop(t)

	count := 0
	countCh := make(chan int, 1)
	id := loop.RunEvery(5*time.Millisecond, func() {
		count++
		if count == 3 {
			select {
			case countCh <- count:
			default:
			}
		}
	})
	_ = id

	go loop.Loop()
	defer loop.Quit()

	select {
	case n := <-countCh:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("repeating timer did not fire 3 times in time")
	}
}
