// Package queue carries coordinator commands from connection handlers to
// the coordinator loop.
//
// Producers never block: a full or closed queue rejects the command.
package queue

import (
	"context"
	"sync"

	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Command is the payload type flowing through the queue.
type Command = model.Command

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a command. It returns ErrFull or ErrClosed when the
	// command was not accepted.
	Enqueue(ctx context.Context, c Command) error

	// Commands returns the receive side. It is closed after Close once
	// drained.
	Commands() <-chan Command

	// Len returns the number of pending commands.
	Len() int

	// Close stops accepting commands. It is idempotent.
	Close() error
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	commands chan Command
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.commands = make(chan Command, q.capacity)
	metrics.UpdateCommandQueueSize(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, c Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordCommandRejected("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordCommandRejected("context_cancelled")
		return err
	}

	select {
	case q.commands <- c:
		metrics.RecordCommandEnqueued()
		metrics.UpdateCommandQueueSize(len(q.commands))
		return nil
	default:
		metrics.RecordCommandRejected("queue_full")
		return ErrFull
	}
}

func (q *InMemoryQueue) Commands() <-chan Command { return q.commands }

func (q *InMemoryQueue) Len() int {
	n := len(q.commands)
	metrics.UpdateCommandQueueSize(n)
	return n
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.commands)
	q.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
