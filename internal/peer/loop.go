package peer

import (
	"context"
	"sync"
)

// loop runs posted closures one at a time, in post order. post never blocks,
// so WebRTC callbacks can post while the loop is busy calling into pion.
type loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	return &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It returns false once the loop has stopped.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// pending returns the number of queued closures.
func (l *loop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// run drains the queue until ctx is cancelled, then drops what is left and
// calls stop on the loop goroutine.
func (l *loop) run(ctx context.Context, stop func()) {
	defer close(l.done)

	for {
		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.queue = nil
			l.mu.Unlock()
			stop()
			return
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}
