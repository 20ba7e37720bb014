package core

import "sync"

// Queue holds commands for controllers that poll instead of holding a push
// link. Drain is atomic: a command is delivered to exactly one poller.
type Queue struct {
	mu    sync.Mutex
	items []Command
}

// NewQueue returns an empty command queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends cmd to the tail of the queue.
func (q *Queue) Enqueue(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
}

// Drain returns all pending commands in FIFO order and empties the queue.
// The result is never nil.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		out = []Command{}
	}
	return out
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
