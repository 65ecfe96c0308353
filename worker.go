package boundq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// State is the lifecycle state of a Queue.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is a read-only handle on the goroutine that consumes a Queue. It
// reports liveness only; stopping the worker is the job of Queue.Stop.
type Worker struct {
	state atomic.Int32
	done  chan struct{}
}

func newWorkerHandle() *Worker {
	return &Worker{done: make(chan struct{})}
}

// Alive reports whether the worker goroutine has been started and has not
// returned yet.
func (w *Worker) Alive() bool { return w.State() == StateRunning }

// Done is closed once the worker goroutine has returned, or once the queue
// is stopped without ever being started.
func (w *Worker) Done() <-chan struct{} { return w.done }

// State returns the worker lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) markStopped() {
	w.state.Store(int32(StateStopped))
	close(w.done)
}

type worker[T any] struct {
	handle    *Worker
	container Container[T]
	process   ProcessFunc[T]
	logger    *slog.Logger
	in        *instruments
	limiter   *rate.Limiter
	onError   ProcessingErrorHandler

	// ctx is handed to process and cancelled by requestStop only.
	ctx   context.Context
	abort context.CancelFunc

	mu            sync.Mutex
	stopRequested bool
	cancelWait    context.CancelFunc

	// dropped counts items taken but not processed because of a stop
	// request. Read only after handle.done is closed.
	dropped int
}

func (w *worker[T]) start(ctx context.Context) {
	// Cancelling the caller's ctx must not stop the worker.
	w.ctx, w.abort = context.WithCancel(context.WithoutCancel(ctx))
	w.handle.state.Store(int32(StateRunning))
	go w.run()
}

func (w *worker[T]) run() {
	defer w.handle.markStopped()
	defer w.abort()

	w.logger.DebugContext(w.ctx, "worker started")

	for {
		waitCtx, cancel, ok := w.arm()
		if !ok {
			w.logger.DebugContext(w.ctx, "worker exiting on stop request")
			return
		}

		item, err := w.container.Take(waitCtx)
		w.disarm(cancel)

		if err != nil {
			if errors.Is(err, ErrContainerClosed) {
				w.logger.DebugContext(w.ctx, "worker reached end of queue")
				return
			}
			if w.isStopRequested() {
				w.logger.DebugContext(w.ctx, "worker exiting on stop request")
				return
			}
			w.in.spuriousWakeup(w.ctx)
			w.logger.DebugContext(w.ctx, "worker wait interrupted without stop request, resuming",
				slog.String("error", err.Error()))
			continue
		}

		if w.isStopRequested() {
			w.dropped++
			return
		}

		w.handleItem(item)
	}
}

// arm registers a fresh cancellable context for the next Take. It refuses
// once a stop was requested so requestStop can never miss a wait.
func (w *worker[T]) arm() (context.Context, context.CancelFunc, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopRequested {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancelWait = cancel
	return ctx, cancel, true
}

func (w *worker[T]) disarm(cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancelWait = nil
	w.mu.Unlock()
	cancel()
}

// interrupt cancels the current wait without requesting a stop. The worker
// treats it as spurious and waits again.
func (w *worker[T]) interrupt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelWait != nil {
		w.cancelWait()
	}
}

func (w *worker[T]) requestStop() {
	w.mu.Lock()
	w.stopRequested = true
	if w.cancelWait != nil {
		w.cancelWait()
	}
	w.mu.Unlock()

	if w.abort != nil {
		w.abort()
	}
}

func (w *worker[T]) isStopRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopRequested
}

func (w *worker[T]) handleItem(item T) {
	if w.limiter != nil {
		if err := w.limiter.Wait(w.ctx); err != nil {
			// only requestStop cancels w.ctx.
			w.dropped++
			return
		}
	}

	var panicked any
	err := w.in.process(w.ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked = r
				w.logger.ErrorContext(ctx, "process func panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return w.process(ctx, item)
	})
	if err == nil {
		return
	}

	perr := &ItemProcessingError{Item: item, Err: err, Panic: panicked}
	w.logger.ErrorContext(w.ctx, "item processing failed", slog.String("error", perr.Error()))
	if w.onError != nil {
		w.onError(w.ctx, perr)
	}
}
