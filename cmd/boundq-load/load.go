package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/time/rate"

	"github.com/ifnotnil/boundq"
)

type loadOptions struct {
	Capacity  int
	Items     int
	Producers int
	Warn      time.Duration
	Error     time.Duration
	Delay     time.Duration
	FailEvery int
	Mode      string
	Priority  bool
	Rate      float64
	LogLevel  string
}

func defaultLoadOptions() *loadOptions {
	return &loadOptions{
		Capacity:  10,
		Items:     100,
		Producers: 4,
		Warn:      100 * time.Millisecond,
		Delay:     time.Millisecond,
		Mode:      boundq.ShutdownModeDrain.String(),
		LogLevel:  "warn",
	}
}

func (o *loadOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Capacity, "capacity", o.Capacity, "Queue capacity")
	fs.IntVar(&o.Items, "items", o.Items, "Total number of items to add")
	fs.IntVar(&o.Producers, "producers", o.Producers, "Number of concurrent producers")
	fs.DurationVar(&o.Warn, "warn", o.Warn, "Warn threshold for a blocked add (0 disables)")
	fs.DurationVar(&o.Error, "error", o.Error, "Error threshold for a blocked add (0 waits forever)")
	fs.DurationVar(&o.Delay, "delay", o.Delay, "Processing time per item")
	fs.IntVar(&o.FailEvery, "fail-every", o.FailEvery, "Fail processing of every n-th item (0 never fails)")
	fs.StringVar(&o.Mode, "mode", o.Mode, "Shutdown mode: drain or immediate")
	fs.BoolVar(&o.Priority, "priority", o.Priority, "Use a priority container that serves larger items first")
	fs.Float64Var(&o.Rate, "rate", o.Rate, "Maximum items processed per second (0 is unlimited)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn or error")
}

func (o *loadOptions) Validate() error {
	var errs []error
	if o.Capacity < 1 {
		errs = append(errs, fmt.Errorf("--capacity must be at least 1, got %d", o.Capacity))
	}
	if o.Items < 0 {
		errs = append(errs, fmt.Errorf("--items must not be negative, got %d", o.Items))
	}
	if o.Producers < 1 {
		errs = append(errs, fmt.Errorf("--producers must be at least 1, got %d", o.Producers))
	}
	if o.Rate < 0 {
		errs = append(errs, fmt.Errorf("--rate must not be negative, got %v", o.Rate))
	}
	if _, err := o.shutdownMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := o.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *loadOptions) shutdownMode() (boundq.ShutdownMode, error) {
	switch strings.ToLower(o.Mode) {
	case boundq.ShutdownModeDrain.String():
		return boundq.ShutdownModeDrain, nil
	case boundq.ShutdownModeImmediate.String():
		return boundq.ShutdownModeImmediate, nil
	default:
		return 0, fmt.Errorf("--mode must be drain or immediate, got %q", o.Mode)
	}
}

func (o *loadOptions) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return 0, fmt.Errorf("--log-level: %w", err)
	}
	return l, nil
}

type summary struct {
	Mode        string
	Admitted    int64
	Timeouts    int64
	Interrupted int64
	Stopped     int64
	Processed   int64
	Failed      int64
	Elapsed     time.Duration
	WorkerAlive bool
	StopErr     error
	Metrics     map[string]int64
}

func (s *summary) Print(w io.Writer) {
	fmt.Fprintf(w, "mode:         %s\n", s.Mode)
	fmt.Fprintf(w, "admitted:     %d\n", s.Admitted)
	fmt.Fprintf(w, "timeouts:     %d\n", s.Timeouts)
	fmt.Fprintf(w, "interrupted:  %d\n", s.Interrupted)
	fmt.Fprintf(w, "stopped:      %d\n", s.Stopped)
	fmt.Fprintf(w, "processed:    %d\n", s.Processed)
	fmt.Fprintf(w, "failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "elapsed:      %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "worker alive: %t\n", s.WorkerAlive)

	keys := make([]string, 0, len(s.Metrics))
	for k := range s.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "metric %s = %d\n", k, s.Metrics[k])
	}
}

func runLoad(ctx context.Context, o *loadOptions, logOut io.Writer) (*summary, error) {
	mode, err := o.shutdownMode()
	if err != nil {
		return nil, err
	}
	level, err := o.level()
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	s := &summary{Mode: mode.String()}
	var processed, failed atomic.Int64

	process := func(ctx context.Context, item int) error {
		if o.Delay > 0 {
			tm := time.NewTimer(o.Delay)
			defer tm.Stop()
			select {
			case <-tm.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if o.FailEvery > 0 && item%o.FailEvery == 0 {
			return fmt.Errorf("item %d failed on purpose", item)
		}
		processed.Add(1)
		return nil
	}

	opts := []boundq.Option{
		boundq.WithName("boundq-load"),
		boundq.WithLogger(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))),
		boundq.WithWarnThreshold(o.Warn),
		boundq.WithErrorThreshold(o.Error),
		boundq.WithMeterProvider(mp),
		boundq.WithProcessingErrorHandler(func(context.Context, *boundq.ItemProcessingError) { failed.Add(1) }),
	}
	if o.Rate > 0 {
		opts = append(opts, boundq.WithProcessRate(rate.Limit(o.Rate), 1))
	}

	var factory boundq.ContainerFactory[int]
	if o.Priority {
		factory = boundq.PriorityFactory(func(a, b int) bool { return a > b })
	}

	q, err := boundq.NewWithContainer(factory, o.Capacity, process, opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := q.Start(ctx); err != nil {
		return nil, err
	}

	var admitted, timeouts, interrupted, stopped atomic.Int64
	next := atomic.Int64{}
	wg := sync.WaitGroup{}
	wg.Add(o.Producers)
	for range o.Producers {
		go func() {
			defer wg.Done()
			for {
				item := int(next.Add(1))
				if item > o.Items {
					return
				}
				switch err := q.Add(ctx, item); {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, boundq.ErrQueueTimeout):
					timeouts.Add(1)
				case errors.Is(err, boundq.ErrQueueInterrupted):
					interrupted.Add(1)
				default:
					stopped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// A fresh context so that an interrupt during the drain escalates
	// instead of skipping the stop entirely.
	stopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	s.StopErr = q.Stop(stopCtx, mode)
	s.Elapsed = time.Since(start)
	s.WorkerAlive = q.Worker().Alive()
	s.Admitted = admitted.Load()
	s.Timeouts = timeouts.Load()
	s.Interrupted = interrupted.Load()
	s.Stopped = stopped.Load()
	s.Processed = processed.Load()
	s.Failed = failed.Load()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	s.Metrics = flattenCounters(rm)

	if s.StopErr != nil {
		return s, fmt.Errorf("stop queue: %w", s.StopErr)
	}
	return s, nil
}

// flattenCounters turns every Int64 sum into "name{k=v,...}" -> value.
func flattenCounters(rm metricdata.ResourceMetrics) map[string]int64 {
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				attrs := make([]string, 0, dp.Attributes.Len())
				for _, kv := range dp.Attributes.ToSlice() {
					if kv.Key == "queue" {
						continue
					}
					attrs = append(attrs, fmt.Sprintf("%s=%s", kv.Key, kv.Value.Emit()))
				}
				key := m.Name
				if len(attrs) > 0 {
					key += "{" + strings.Join(attrs, ",") + "}"
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}
