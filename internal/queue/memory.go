package queue

import (
	"context"
	"sync"

	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

// MemoryQueue is a bounded channel queue for single-process nodes.
type MemoryQueue struct {
	ch     chan types.HashValue
	closed chan struct{}
	once   sync.Once

	mu          sync.RWMutex
	subscribers []chan *transaction.Record
}

// NewMemoryQueue creates a memory queue holding up to size hashes.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		ch:     make(chan types.HashValue, size),
		closed: make(chan struct{}),
	}
}

// Publish enqueues hash without blocking and fails with QueueErrFull at
// capacity.
func (q *MemoryQueue) Publish(ctx context.Context, hash types.HashValue) error {
	select {
	case <-q.closed:
		return errClosed(errors.OpPublish)
	default:
	}
	select {
	case q.ch <- hash:
		return nil
	case <-ctx.Done():
		return errors.QueueWrapWithCode(ctx.Err(), errors.OpPublish, errors.QueueErrPublish, "publish cancelled")
	default:
		return errors.QueueErrorf(errors.OpPublish, errors.QueueErrFull, "queue is at capacity (%d)", cap(q.ch))
	}
}

// Consume returns the next hash. After Close it drains what is left and then
// fails with QueueErrClosed.
func (q *MemoryQueue) Consume(ctx context.Context) (types.HashValue, error) {
	select {
	case h := <-q.ch:
		return h, nil
	default:
	}
	select {
	case h := <-q.ch:
		return h, nil
	case <-q.closed:
		return types.HashValue{}, errClosed(errors.OpConsume)
	case <-ctx.Done():
		return types.HashValue{}, ctx.Err()
	}
}

// Subscribe returns a channel receiving every announced record. Records are
// dropped for a subscriber whose buffer is full.
func (q *MemoryQueue) Subscribe(buffer int) <-chan *transaction.Record {
	ch := make(chan *transaction.Record, buffer)
	q.mu.Lock()
	q.subscribers = append(q.subscribers, ch)
	q.mu.Unlock()
	return ch
}

// Announce fans rec out to subscribers.
func (q *MemoryQueue) Announce(_ context.Context, rec *transaction.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, ch := range q.subscribers {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

func (q *MemoryQueue) Depth() int { return len(q.ch) }

func (q *MemoryQueue) Ping(context.Context) error {
	select {
	case <-q.closed:
		return errClosed(errors.OpPing)
	default:
		return nil
	}
}

// Close stops the queue. Subscriber channels are closed.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.closed)
		q.mu.Lock()
		for _, ch := range q.subscribers {
			close(ch)
		}
		q.subscribers = nil
		q.mu.Unlock()
	})
	return nil
}
