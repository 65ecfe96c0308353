package boundq

import (
	"context"
	"sync"
)

// Container is the bounded storage behind a Queue. Implementations must be
// safe for concurrent use by many producers and one consumer, and must never
// hold more than Cap items.
//
// Close marks the end of the stream. After Close, puts fail with
// ErrContainerClosed, producers blocked in Put are released with the same
// error, and Take keeps returning the items admitted before Close until the
// container is empty, then reports ErrContainerClosed.
type Container[T any] interface {
	// TryPut inserts without blocking. Returns ErrContainerFull when there is
	// no space.
	TryPut(item T) error
	// Put blocks until there is space, ctx is done, or the container closes.
	Put(ctx context.Context, item T) error
	// Take blocks until an item is available, ctx is done, or the container
	// is closed and empty.
	Take(ctx context.Context) (T, error)
	Close()
	Len() int
	Cap() int
}

// ContainerFactory builds the container for a new Queue.
type ContainerFactory[T any] func(capacity int) Container[T]

// ChanContainer is a FIFO Container backed by a buffered channel.
type ChanContainer[T any] struct {
	ch     chan T
	closed chan struct{}
	// sends hold the read lock, Close takes the write lock before close(ch).
	chMu sync.RWMutex
	once sync.Once
}

// NewChanContainer returns a FIFO container holding at most capacity items.
func NewChanContainer[T any](capacity int) Container[T] {
	return &ChanContainer[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

func (c *ChanContainer[T]) TryPut(item T) error {
	c.chMu.RLock()
	defer c.chMu.RUnlock()

	select {
	case <-c.closed:
		return ErrContainerClosed
	default:
	}

	select {
	case c.ch <- item:
		return nil
	default:
		return ErrContainerFull
	}
}

func (c *ChanContainer[T]) Put(ctx context.Context, item T) error {
	c.chMu.RLock()
	defer c.chMu.RUnlock()

	select {
	case <-c.closed:
		return ErrContainerClosed
	default:
	}

	select {
	case <-c.closed: // container closes while we wait for space.
		return ErrContainerClosed
	case c.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChanContainer[T]) Take(ctx context.Context) (T, error) {
	select {
	case item, open := <-c.ch:
		if !open {
			var zero T
			return zero, ErrContainerClosed
		}
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *ChanContainer[T]) Close() {
	c.once.Do(func() {
		close(c.closed) // release blocked senders.
		c.chMu.Lock()
		defer c.chMu.Unlock()
		close(c.ch)
	})
}

func (c *ChanContainer[T]) Len() int { return len(c.ch) }

func (c *ChanContainer[T]) Cap() int { return cap(c.ch) }
