package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRunInLoopExecutesImmediatelyOnOwningGoroutine(t *testing.T) {
	loop := newTestLoop(t)
	ran := false
	loop.RunInLoop(func() { ran = true })
	assert.True(t, ran)
}

func TestEventLoopQueueInLoopFromForeignGoroutineWakesTheLoop(t *testing.T) {
	loop := newTestLoop(t)

	var mu sync.Mutex
	var ran bool
	go loop.Loop()
	defer loop.Quit()

	loop.RunInLoop(func() {}) // does not wait: runs here if Loop has not claimed the loop yet, else queues

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.QueueInLoop(func() {
			mu.Lock()
			ran = true
			mu.Unlock()
		})
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, 5*time.Millisecond)
}

func TestEventLoopRunAtFromForeignGoroutineReturnsUsableID(t *testing.T) {
	loop := newTestLoop(t)
	go loop.Loop()
	defer loop.Quit()

	fired := make(chan struct{})
	idCh := make(chan TimerID, 1)
	go func() {
		idCh <- loop.RunAfter(5*time.Millisecond, func() { close(fired) })
	}()
	id := <-idCh
	assert.NotZero(t, id)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer scheduled from foreign goroutine never fired")
	}
}
