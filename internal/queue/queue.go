// Package queue implements the FIFO deferred-command queue that buffers
// identity-gated operations issued before an identity exists.
package queue

import "sync"

// Command is a zero-argument action closed over its arguments at enqueue time.
type Command func()

// Deferred is a mutex-serialized FIFO of commands. Enqueue cannot fail and a
// command is executed at most once.
type Deferred struct {
	mu   sync.Mutex
	cmds []Command
}

func New() *Deferred {
	return &Deferred{}
}

// Enqueue appends cmd in FIFO order.
func (q *Deferred) Enqueue(cmd Command) {
	q.mu.Lock()
	q.cmds = append(q.cmds, cmd)
	q.mu.Unlock()
}

// Len reports the number of pending commands.
func (q *Deferred) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Drain atomically swaps out the pending commands and runs them in insertion
// order. Commands enqueued while a drain is running land in the fresh slice
// and are picked up by the next drain — never skipped, never run twice.
func (q *Deferred) Drain() int {
	q.mu.Lock()
	cmds := q.cmds
	q.cmds = nil
	q.mu.Unlock()

	for _, cmd := range cmds {
		cmd()
	}
	return len(cmds)
}
