package core

import "context"

// CommandQueue is the bounded multi-producer-single-consumer queue that
// decouples a LocalNode's receiver loop from the command-processing
// goroutine that consumes the queue (spec.md section 4.D/5). Any number of
// producers may Push concurrently; exactly one goroutine is expected to
// Pop.
type CommandQueue struct {
	ch chan *Command
}

// NewCommandQueue returns a queue buffering up to capacity commands
// before Push starts blocking.
func NewCommandQueue(capacity int) *CommandQueue {
	return &CommandQueue{ch: make(chan *Command, capacity)}
}

// Push enqueues cmd, blocking if the queue is full until space frees up
// or ctx is done. Pushing onto a closed queue panics (see Close).
func (q *CommandQueue) Push(ctx context.Context, cmd *Command) error {
	select {
	case q.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next command, blocking until one arrives, ctx is done,
// or the queue is closed (in which case ok is false).
func (q *CommandQueue) Pop(ctx context.Context) (cmd *Command, ok bool) {
	select {
	case cmd, ok = <-q.ch:
		return cmd, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Chan exposes the underlying channel for use in a larger select
// statement (e.g. a node's main loop also watching a shutdown channel).
func (q *CommandQueue) Chan() <-chan *Command { return q.ch }

// Len reports the number of commands currently buffered.
func (q *CommandQueue) Len() int { return len(q.ch) }

// Close closes the queue. Only the owning producer side should call this;
// a Push after Close panics, matching the usual close-channel contract.
func (q *CommandQueue) Close() { close(q.ch) }
