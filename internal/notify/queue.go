package notify

import "sync"

// notificationQueue is a thread-safe FIFO queue for pending
// notifications.
//
// The queue is unbounded: enqueuing happens in post-commit callbacks
// that must never block a request goroutine. The worker drains it
// best-effort.
//
// The queue uses a channel for signaling to enable context-aware
// waiting in the Run loop.
type notificationQueue struct {
	mu      sync.Mutex
	pending []Notification
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{
		pending: make([]Notification, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a notification to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *notificationQueue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.pending = append(q.pending, n)

	// Signal availability (non-blocking - buffer of 1 coalesces signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Notification{}, false) if the queue is empty.
func (q *notificationQueue) TryDequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Notification{}, false
	}

	n := q.pending[0]

	// Release the slot so the notification's filter can be collected.
	q.pending[0] = Notification{}
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}

	return n, true
}

// Wait returns a channel that signals when notifications may be
// available. Use with select for context-aware waiting.
func (q *notificationQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *notificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close signals that no more notifications will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *notificationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
