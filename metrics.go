package boundq

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope for boundq metrics and traces.
const scopeName = "github.com/ifnotnil/boundq"

// Rejection reasons reported on boundq.items.rejected.
const (
	reasonTimeout     = "timeout"
	reasonInterrupted = "interrupted"
	reasonStopped     = "stopped"
	reasonFull        = "full"
)

// instruments holds the OTel instruments of one queue. Instrument creation
// errors are dropped: the API hands back noop instruments in that case.
type instruments struct {
	attrs metric.MeasurementOption
	name  string

	admitted  metric.Int64Counter
	rejected  metric.Int64Counter
	warned    metric.Int64Counter
	processed metric.Int64Counter
	discarded metric.Int64Counter
	wakeups   metric.Int64Counter
	addWait   metric.Float64Histogram
	procTime  metric.Float64Histogram

	depth  metric.Registration
	tracer trace.Tracer
}

func newInstruments(name string, mp metric.MeterProvider, tp trace.TracerProvider, depth func() int) *instruments {
	meter := mp.Meter(scopeName)
	in := &instruments{
		attrs:  metric.WithAttributes(attribute.String("queue", name)),
		name:   name,
		tracer: tp.Tracer(scopeName),
	}

	in.admitted, _ = meter.Int64Counter("boundq.items.admitted",
		metric.WithDescription("Items accepted into the queue"),
		metric.WithUnit("{item}"))
	in.rejected, _ = meter.Int64Counter("boundq.items.rejected",
		metric.WithDescription("Items refused by Add, by reason"),
		metric.WithUnit("{item}"))
	in.warned, _ = meter.Int64Counter("boundq.add.warnings",
		metric.WithDescription("Add calls that waited past the warn threshold"),
		metric.WithUnit("{call}"))
	in.processed, _ = meter.Int64Counter("boundq.items.processed",
		metric.WithDescription("Items handed to the process func, by status"),
		metric.WithUnit("{item}"))
	in.discarded, _ = meter.Int64Counter("boundq.items.discarded",
		metric.WithDescription("Items dropped by an immediate stop"),
		metric.WithUnit("{item}"))
	in.wakeups, _ = meter.Int64Counter("boundq.worker.spurious_wakeups",
		metric.WithDescription("Worker waits cancelled without a stop request"),
		metric.WithUnit("{wakeup}"))
	in.addWait, _ = meter.Float64Histogram("boundq.add.wait",
		metric.WithDescription("Time Add spent blocked on a full queue"),
		metric.WithUnit("s"))
	in.procTime, _ = meter.Float64Histogram("boundq.process.duration",
		metric.WithDescription("Duration of process func calls"),
		metric.WithUnit("s"))

	gauge, err := meter.Int64ObservableGauge("boundq.queue.depth",
		metric.WithDescription("Items currently queued"),
		metric.WithUnit("{item}"))
	if err == nil {
		in.depth, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(depth()), in.attrs)
			return nil
		}, gauge)
	}

	return in
}

func (in *instruments) close() {
	if in.depth != nil {
		_ = in.depth.Unregister()
	}
}

func (in *instruments) admit(ctx context.Context, waited time.Duration) {
	in.admitted.Add(ctx, 1, in.attrs)
	if waited > 0 {
		in.addWait.Record(ctx, waited.Seconds(), in.attrs)
	}
}

func (in *instruments) reject(ctx context.Context, reason string) {
	in.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", in.name),
		attribute.String("reason", reason),
	))
}

func (in *instruments) warn(ctx context.Context) { in.warned.Add(ctx, 1, in.attrs) }

func (in *instruments) discard(ctx context.Context, n int) {
	if n > 0 {
		in.discarded.Add(ctx, int64(n), in.attrs)
	}
}

func (in *instruments) spuriousWakeup(ctx context.Context) { in.wakeups.Add(ctx, 1, in.attrs) }

// process wraps fn in a span and records its duration and outcome.
func (in *instruments) process(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := in.tracer.Start(ctx, "boundq.process",
		trace.WithAttributes(attribute.String("boundq.queue", in.name)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	attrs := metric.WithAttributes(
		attribute.String("queue", in.name),
		attribute.String("status", status),
	)
	in.procTime.Record(ctx, elapsed, attrs)
	in.processed.Add(ctx, 1, attrs)

	return err
}
