// Package boundq implements a managed bounded work queue.
//
// A Queue accepts items from any number of producers and hands them, one at
// a time and in admission order, to a single background worker goroutine
// that runs the supplied ProcessFunc. Capacity is fixed at construction.
// When the queue is full, Add blocks and escalates: it logs a warning once
// the wait crosses the warn threshold and gives up with ErrQueueTimeout once
// it crosses the error threshold.
//
// Stop supports two shutdown modes. ShutdownModeDrain processes every item
// admitted before the stop and then returns. ShutdownModeImmediate wakes the
// worker right away and discards whatever is still queued.
//
//	q, err := boundq.New(100, handle,
//	    boundq.WithWarnThreshold(100*time.Millisecond),
//	    boundq.WithErrorThreshold(time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	_ = q.Start(ctx)
//	defer q.Stop(ctx, boundq.ShutdownModeDrain)
//
// The storage behind a queue is pluggable through NewWithContainer. The
// package ships a FIFO ChanContainer and a PriorityContainer.
//
// A Queue is not restartable. Construct a new one for every lifecycle.
package boundq
