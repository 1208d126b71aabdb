package notify

import (
	"sync"
	"sync/atomic"
)

// Queue buffers notices for a UI loop to drain. When the buffer is full new
// notices are dropped rather than blocking the sender.
type Queue struct {
	ch      chan Notice
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding up to size notices.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Notice, size)}
}

func (q *Queue) Notify(n Notice) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- n:
	default:
		q.dropped.Add(1)
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Notice { return q.ch }

// Dropped reports how many notices were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting notices and closes the channel.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Desktop forwards notices to a platform notification function only when the
// user granted permission. Without permission it is a no-op.
type Desktop struct {
	granted atomic.Bool
	show    func(Notice)
}

// NewDesktop wraps show, the platform specific display call.
func NewDesktop(show func(Notice)) *Desktop {
	return &Desktop{show: show}
}

// SetPermission records the user's answer to the permission prompt.
func (d *Desktop) SetPermission(granted bool) { d.granted.Store(granted) }

func (d *Desktop) Notify(n Notice) {
	if d.show == nil || !d.granted.Load() {
		return
	}
	d.show(n)
}
