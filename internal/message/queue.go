package message

import "sync"

// Item is one unit of work for the owning thread: either an envelope to
// route or a task closure marshalled from another goroutine.
type Item struct {
	Envelope *Envelope
	Task     func()
}

// Queue is the inbox drained by a window's owning thread. Producers may be
// any goroutine; the lock only covers the slice.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	closed bool
	ready  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push enqueues an envelope.
func (q *Queue) Push(env *Envelope) error {
	return q.push(Item{Envelope: env})
}

// PushTask enqueues a closure to run on the owning thread.
func (q *Queue) PushTask(fn func()) error {
	return q.push(Item{Task: fn})
}

func (q *Queue) push(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrWindowClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns everything queued so far, in FIFO order.
// Items pushed while the caller processes the batch wait for the next drain.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready signals (coalesced) that something was pushed.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes and returns whatever was still queued.
func (q *Queue) Close() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
