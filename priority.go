package boundq

import (
	"container/heap"
	"context"
	"sync"
)

// PriorityContainer is a bounded Container that hands out the item ranked
// first by less. Items of equal rank come out in insertion order.
type PriorityContainer[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    priorityHeap[T]
	capacity int
	seq      uint64
	closed   bool
}

// NewPriorityContainer returns a container holding at most capacity items,
// ordered by less (less(a, b) reports whether a goes before b).
func NewPriorityContainer[T any](capacity int, less func(a, b T) bool) *PriorityContainer[T] {
	c := &PriorityContainer[T]{
		items:    priorityHeap[T]{less: less},
		capacity: capacity,
	}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

// PriorityFactory adapts NewPriorityContainer to a ContainerFactory.
func PriorityFactory[T any](less func(a, b T) bool) ContainerFactory[T] {
	return func(capacity int) Container[T] {
		return NewPriorityContainer(capacity, less)
	}
}

func (c *PriorityContainer[T]) TryPut(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContainerClosed
	}
	if c.items.Len() >= c.capacity {
		return ErrContainerFull
	}
	c.push(item)
	return nil
}

func (c *PriorityContainer[T]) Put(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Wake the waiter when ctx is done; Wait cannot select on a channel.
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notFull.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for {
		if c.closed {
			return ErrContainerClosed
		}
		if c.items.Len() < c.capacity {
			c.push(item)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.notFull.Wait()
	}
}

func (c *PriorityContainer[T]) Take(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notEmpty.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for {
		if c.items.Len() > 0 {
			e := heap.Pop(&c.items).(priorityEntry[T])
			c.notFull.Signal()
			return e.item, nil
		}
		if c.closed {
			var zero T
			return zero, ErrContainerClosed
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		c.notEmpty.Wait()
	}
}

func (c *PriorityContainer[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

func (c *PriorityContainer[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

func (c *PriorityContainer[T]) Cap() int { return c.capacity }

// push must be called with mu held.
func (c *PriorityContainer[T]) push(item T) {
	c.seq++
	heap.Push(&c.items, priorityEntry[T]{item: item, seq: c.seq})
	c.notEmpty.Signal()
}

type priorityEntry[T any] struct {
	item T
	seq  uint64
}

type priorityHeap[T any] struct {
	entries []priorityEntry[T]
	less    func(a, b T) bool
}

func (h priorityHeap[T]) Len() int { return len(h.entries) }

func (h priorityHeap[T]) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if h.less(a.item, b.item) {
		return true
	}
	if h.less(b.item, a.item) {
		return false
	}
	return a.seq < b.seq
}

func (h priorityHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *priorityHeap[T]) Push(x any) { h.entries = append(h.entries, x.(priorityEntry[T])) }

func (h *priorityHeap[T]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	var zero priorityEntry[T]
	old[n-1] = zero
	h.entries = old[:n-1]
	return e
}
