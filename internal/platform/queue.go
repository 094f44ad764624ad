package platform

import "sync"

// threadQueueLimit bounds the thread queue; the oldest messages are dropped
// first.
const threadQueueLimit = 64

// threadQueue holds messages addressed to the owning thread rather than to
// a live window: quit broadcasts and messages for handles the provider no
// longer knows.
type threadQueue struct {
	mu   sync.Mutex
	msgs []Message
}

func (q *threadQueue) push(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) >= threadQueueLimit {
		q.msgs = append(q.msgs[:0], q.msgs[len(q.msgs)-threadQueueLimit+1:]...)
	}
	q.msgs = append(q.msgs, msg)
}

func (q *threadQueue) take() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}
