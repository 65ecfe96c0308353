package boundq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ProcessFunc handles one item. Errors and panics are logged and reported
// to the ProcessingErrorHandler; they never reach producers. ctx is
// cancelled when the queue is stopped with ShutdownModeImmediate.
type ProcessFunc[T any] func(ctx context.Context, item T) error

// Queue is a bounded, single-consumer, multi-producer work queue.
type Queue[T any] struct {
	id        uuid.UUID
	cfg       config
	logger    *slog.Logger
	container Container[T]
	worker    *worker[T]
	in        *instruments

	// mu orders Start against Stop.
	mu       sync.Mutex
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New creates a queue of the given capacity backed by a FIFO ChanContainer.
func New[T any](capacity int, process ProcessFunc[T], opts ...Option) (*Queue[T], error) {
	return NewWithContainer(NewChanContainer[T], capacity, process, opts...)
}

// NewWithContainer creates a queue whose storage is built by factory. A nil
// factory falls back to NewChanContainer.
func NewWithContainer[T any](factory ContainerFactory[T], capacity int, process ProcessFunc[T], opts ...Option) (*Queue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if process == nil {
		return nil, ErrNilProcessFunc
	}
	if factory == nil {
		factory = NewChanContainer[T]
	}

	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}

	container := factory(capacity)
	if container == nil {
		return nil, ErrNilContainer
	}

	id := uuid.New()
	logger := c.logger.With(
		slog.String("queue", c.name),
		slog.String("queue_id", id.String()),
	)
	in := newInstruments(c.name, c.meterProvider, c.tracerProvider, container.Len)

	return &Queue[T]{
		id:        id,
		cfg:       c,
		logger:    logger,
		container: container,
		in:        in,
		worker: &worker[T]{
			handle:    newWorkerHandle(),
			container: container,
			process:   process,
			logger:    logger,
			in:        in,
			limiter:   c.limiter,
			onError:   c.onError,
		},
	}, nil
}

// ID returns the unique id of this queue instance.
func (q *Queue[T]) ID() uuid.UUID { return q.id }

// Name returns the configured queue name.
func (q *Queue[T]) Name() string { return q.cfg.name }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return q.container.Cap() }

// Len returns the number of items waiting for the worker.
func (q *Queue[T]) Len() int { return q.container.Len() }

// State returns the lifecycle state.
func (q *Queue[T]) State() State { return q.worker.handle.State() }

// Worker returns a liveness handle on the worker goroutine.
func (q *Queue[T]) Worker() *Worker { return q.worker.handle }

// Start launches the worker goroutine. Cancelling ctx afterwards does not
// stop the worker; use Stop. A queue can be started once.
func (q *Queue[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping.Load() {
		return ErrQueueStopped
	}
	if q.State() != StateCreated {
		return ErrAlreadyStarted
	}

	q.logger.InfoContext(ctx, "queue starting",
		slog.Int("capacity", q.container.Cap()),
		slog.Duration("warn_threshold", q.cfg.warnThreshold),
		slog.Duration("error_threshold", q.cfg.errorThreshold),
	)
	q.worker.start(ctx)
	return nil
}

// TryAdd inserts item only if there is space right now.
func (q *Queue[T]) TryAdd(item T) error {
	ctx := context.Background()
	if q.stopping.Load() {
		return q.rejectStopped(ctx)
	}

	switch err := q.container.TryPut(item); {
	case err == nil:
		q.in.admit(ctx, 0)
		return nil
	case errors.Is(err, ErrContainerClosed):
		return q.rejectStopped(ctx)
	case errors.Is(err, ErrContainerFull):
		q.in.reject(ctx, reasonFull)
		return ErrQueueFull
	default:
		return err
	}
}

// Add inserts item, blocking while the queue is full. A wait longer than
// the warn threshold is logged once. A wait longer than the error threshold
// fails with ErrQueueTimeout. If ctx ends first, Add fails with
// ErrQueueInterrupted. In every failure case the item is not inserted.
func (q *Queue[T]) Add(ctx context.Context, item T) error {
	if q.stopping.Load() {
		return q.rejectStopped(ctx)
	}

	switch err := q.container.TryPut(item); {
	case err == nil:
		q.in.admit(ctx, 0)
		return nil
	case errors.Is(err, ErrContainerClosed):
		return q.rejectStopped(ctx)
	case !errors.Is(err, ErrContainerFull):
		return err
	}

	return q.addWait(ctx, item)
}

func (q *Queue[T]) addWait(ctx context.Context, item T) error {
	start := time.Now()
	warned := false

	for {
		waitCtx, cancel := q.thresholdContext(ctx, start, warned)
		err := q.container.Put(waitCtx, item)
		cancel()

		waited := time.Since(start)
		switch {
		case err == nil:
			q.in.admit(ctx, waited)
			if warned {
				q.logger.InfoContext(ctx, "queue add admitted after slow wait", slog.Duration("waited", waited))
			}
			return nil
		case errors.Is(err, ErrContainerClosed):
			return q.rejectStopped(ctx)
		case ctx.Err() != nil:
			q.in.reject(ctx, reasonInterrupted)
			return fmt.Errorf("%w: %w", ErrQueueInterrupted, ctx.Err())
		case !errors.Is(err, context.DeadlineExceeded):
			return err
		}

		// Warn first, then check the error threshold in the same pass so a
		// warning always precedes a timeout.
		if !warned && q.cfg.warnThreshold > 0 && waited >= q.cfg.warnThreshold {
			warned = true
			q.in.warn(ctx)
			q.logger.WarnContext(ctx, "queue add waiting for capacity",
				slog.Duration("waited", waited),
				slog.Int("capacity", q.container.Cap()),
			)
		}
		if q.cfg.errorThreshold > 0 && waited >= q.cfg.errorThreshold {
			q.in.reject(ctx, reasonTimeout)
			q.logger.ErrorContext(ctx, "queue add timed out",
				slog.Duration("waited", waited),
				slog.Int("capacity", q.container.Cap()),
			)
			return fmt.Errorf("%w after %s", ErrQueueTimeout, waited)
		}
	}
}

// thresholdContext bounds the next Put by whichever threshold is still
// pending. With none pending the wait is bounded by ctx alone.
func (q *Queue[T]) thresholdContext(ctx context.Context, start time.Time, warned bool) (context.Context, context.CancelFunc) {
	var next time.Duration
	if !warned && q.cfg.warnThreshold > 0 {
		next = q.cfg.warnThreshold
	}
	if e := q.cfg.errorThreshold; e > 0 && (next == 0 || e < next) {
		next = e
	}
	if next == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, start.Add(next))
}

func (q *Queue[T]) rejectStopped(ctx context.Context) error {
	q.in.reject(ctx, reasonStopped)
	return ErrQueueStopped
}

// Stop shuts the queue down and waits for the worker goroutine to return,
// at most WaitForWorkerFinish (or WithFinishTimeout).
//
// With ShutdownModeDrain every item admitted so far is processed first. If
// ctx ends during the drain, Stop escalates to ShutdownModeImmediate.
// With ShutdownModeImmediate the worker is woken at once and queued items are
// discarded.
//
// Producers blocked in Add are released with ErrQueueStopped. Only the first
// call does the work; later and concurrent calls return its result.
func (q *Queue[T]) Stop(ctx context.Context, mode ShutdownMode) error {
	q.stopOnce.Do(func() { q.stopErr = q.stop(ctx, mode) })
	return q.stopErr
}

func (q *Queue[T]) stop(ctx context.Context, mode ShutdownMode) error {
	defer q.in.close()

	q.mu.Lock()
	q.stopping.Store(true)
	if q.State() == StateCreated {
		q.container.Close()
		q.worker.handle.markStopped()
		q.mu.Unlock()
		q.logger.InfoContext(ctx, "queue stopped before start", slog.Int("discarded", q.container.Len()))
		q.in.discard(ctx, q.container.Len())
		return nil
	}
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "queue stopping",
		slog.String("mode", mode.String()),
		slog.Int("queued", q.container.Len()),
	)

	timeout := q.cfg.finishTimeout
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	done := q.worker.handle.Done()

	if mode == ShutdownModeImmediate {
		q.abort()
	} else {
		q.container.Close()
		select {
		case <-done:
			q.logger.InfoContext(ctx, "queue stopped", slog.String("mode", mode.String()))
			return nil
		case <-ctx.Done():
			q.logger.WarnContext(ctx, "queue drain interrupted, stopping immediately",
				slog.Int("queued", q.container.Len()))
			q.abort()
		case <-deadline.C:
			q.logger.ErrorContext(ctx, "queue drain did not finish in time, aborting worker",
				slog.Duration("timeout", timeout))
			q.abort()
			return fmt.Errorf("%w: drain exceeded %s", ErrWorkerStillRunning, timeout)
		}
	}

	select {
	case <-done:
	case <-deadline.C:
		q.logger.ErrorContext(ctx, "worker did not finish in time", slog.Duration("timeout", timeout))
		return fmt.Errorf("%w: waited %s", ErrWorkerStillRunning, timeout)
	}

	discarded := q.container.Len() + q.worker.dropped
	q.in.discard(ctx, discarded)
	q.logger.InfoContext(ctx, "queue stopped",
		slog.String("mode", ShutdownModeImmediate.String()),
		slog.Int("discarded", discarded),
	)
	return nil
}

// abort requests the worker to stop, wakes it and closes the container.
func (q *Queue[T]) abort() {
	q.worker.requestStop()
	q.container.Close()
}
