package boundq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums the data points of an Int64 counter whose attributes
// contain every key/value in match.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s", name)

	var total int64
	for _, dp := range sum.DataPoints {
		matched := true
		for _, kv := range match {
			if v, found := dp.Attributes.Value(kv.Key); !found || v != kv.Value {
				matched = false
				break
			}
		}
		if matched {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	reader, mp := setupTestMeter()
	ctx := context.Background()

	release := make(chan struct{})
	subject := newQueue(t, 1, func(_ context.Context, item int) error {
		if item == 1 {
			<-release
		}
		if item == 3 {
			return errors.New("bad item")
		}
		return nil
	}, WithMeterProvider(mp), WithName("metered"), WithErrorThreshold(20*time.Millisecond))
	require.NoError(t, subject.Start(ctx))

	require.NoError(t, subject.Add(ctx, 1))
	require.Eventually(t, func() bool { return subject.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, subject.Add(ctx, 2))
	ErrorIs(ErrQueueTimeout)(t, subject.Add(ctx, 99))
	ErrorIs(ErrQueueFull)(t, subject.TryAdd(98))

	rm := collectMetrics(t, reader)
	depth := findMetric(rm, "boundq.queue.depth")
	require.NotNil(t, depth, "boundq.queue.depth not found")
	gauge, ok := depth.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	close(release)
	require.NoError(t, subject.Add(ctx, 3))
	require.NoError(t, subject.Stop(ctx, ShutdownModeDrain))

	rm = collectMetrics(t, reader)
	queueAttr := attribute.String("queue", "metered")
	assert.Equal(t, int64(3), counterValue(t, rm, "boundq.items.admitted", queueAttr))
	assert.Equal(t, int64(1), counterValue(t, rm, "boundq.items.rejected", attribute.String("reason", reasonTimeout)))
	assert.Equal(t, int64(1), counterValue(t, rm, "boundq.items.rejected", attribute.String("reason", reasonFull)))
	assert.Equal(t, int64(2), counterValue(t, rm, "boundq.items.processed", attribute.String("status", "ok")))
	assert.Equal(t, int64(1), counterValue(t, rm, "boundq.items.processed", attribute.String("status", "error")))

	hist := findMetric(rm, "boundq.process.duration")
	require.NotNil(t, hist)
	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestMetricsDiscardedOnImmediateStop(t *testing.T) {
	reader, mp := setupTestMeter()
	ctx := context.Background()

	subject := newQueue(t, 10, noop, WithMeterProvider(mp))
	for i := range 4 {
		require.NoError(t, subject.Add(ctx, i))
	}
	require.NoError(t, subject.Stop(ctx, ShutdownModeImmediate))
	ErrorIs(ErrQueueStopped)(t, subject.Add(ctx, 5))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(4), counterValue(t, rm, "boundq.items.discarded"))
	assert.Equal(t, int64(1), counterValue(t, rm, "boundq.items.rejected", attribute.String("reason", reasonStopped)))
}

func TestTracing(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(ctx) }()

	subject := newQueue(t, 2, func(_ context.Context, item int) error {
		if item == 1 {
			return errors.New("nope")
		}
		return nil
	}, WithTracerProvider(tp), WithName("traced"))
	require.NoError(t, subject.Start(ctx))
	require.NoError(t, subject.Add(ctx, 0))
	require.NoError(t, subject.Add(ctx, 1))
	require.NoError(t, subject.Stop(ctx, ShutdownModeDrain))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "boundq.process", s.Name)
		assert.Contains(t, s.Attributes, attribute.String("boundq.queue", "traced"))
	}
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}
