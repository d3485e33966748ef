package peer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopPreservesPostOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLoop()
	go l.run(ctx, func() {})
	defer func() {
		cancel()
		<-l.done
	}()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopHandlersMayPost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLoop()
	go l.run(ctx, func() {})
	defer func() {
		cancel()
		<-l.done
	}()

	done := make(chan struct{})
	l.post(func() {
		l.post(func() { close(done) })
	})
	<-done
}

func TestLoopRejectsPostAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLoop()

	stopped := false
	go l.run(ctx, func() { stopped = true })
	cancel()
	<-l.done

	assert.True(t, stopped)
	assert.False(t, l.post(func() {}))
	assert.Zero(t, l.pending())
}
