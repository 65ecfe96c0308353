package boundq

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// WaitForWorkerFinish is the default upper bound Stop waits for the worker
// goroutine to return.
const WaitForWorkerFinish = 10 * time.Second

// ShutdownMode selects how Stop treats items that are still queued.
type ShutdownMode int

const (
	// ShutdownModeDrain processes every admitted item before the worker exits.
	ShutdownModeDrain ShutdownMode = iota
	// ShutdownModeImmediate wakes the worker at once and discards queued items.
	ShutdownModeImmediate
)

func (m ShutdownMode) String() string {
	switch m {
	case ShutdownModeDrain:
		return "drain"
	case ShutdownModeImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ProcessingErrorHandler is called by the worker for every failed item,
// after the failure has been logged. err is always an *ItemProcessingError.
type ProcessingErrorHandler func(ctx context.Context, err *ItemProcessingError)

type config struct {
	logger         *slog.Logger
	name           string
	warnThreshold  time.Duration
	errorThreshold time.Duration
	finishTimeout  time.Duration
	limiter        *rate.Limiter
	onError        ProcessingErrorHandler
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultConfig() config {
	return config{
		logger:         slog.New(slog.DiscardHandler),
		name:           "boundq",
		finishTimeout:  WaitForWorkerFinish,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
}

// Option configures a Queue.
type Option func(*config)

// WithLogger sets the structured logger. The default logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName sets the queue name used in log records and metric attributes.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithWarnThreshold sets how long Add may block before it logs a warning.
// Zero or negative disables the warning.
func WithWarnThreshold(d time.Duration) Option {
	return func(c *config) { c.warnThreshold = d }
}

// WithErrorThreshold sets how long Add may block before it fails with
// ErrQueueTimeout. Zero or negative means Add waits without limit.
func WithErrorThreshold(d time.Duration) Option {
	return func(c *config) { c.errorThreshold = d }
}

// WithFinishTimeout overrides WaitForWorkerFinish for this queue.
func WithFinishTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.finishTimeout = d
		}
	}
}

// WithProcessRate limits how many items per second the worker hands to the
// ProcessFunc. A burst below 1 is raised to 1.
func WithProcessRate(limit rate.Limit, burst int) Option {
	return func(c *config) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithProcessingErrorHandler registers a callback for failed items.
func WithProcessingErrorHandler(h ProcessingErrorHandler) Option {
	return func(c *config) { c.onError = h }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}
