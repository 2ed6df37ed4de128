package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/knot/internal/ir"
	"github.com/roach88/knot/internal/metrics"
)

// Recorder receives one transition per published state.
// Implemented by store.Journal. Record is called from the reduction loop;
// failures are logged and processing continues.
type Recorder interface {
	Record(ctx context.Context, t ir.Transition) error
}

// options holds the construction-time configuration of a knot.
type options struct {
	name      string
	logger    *slog.Logger
	observeOn Executor
	reduceOn  Executor
	recorder  Recorder
	metrics   *metrics.Metrics
	ids       IDGenerator
}

// Option configures a knot at construction.
type Option func(*options)

func defaultOptions() options {
	return options{
		name: "knot",
		ids:  UUIDv7Generator{},
	}
}

// WithName sets the knot name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserveOn delivers state publications to subscribers on exec.
// exec must run tasks one at a time in submission order (see SerialExecutor).
func WithObserveOn(exec Executor) Option {
	return func(o *options) {
		o.observeOn = exec
	}
}

// WithReduceOn runs reducers on exec. Reductions stay strictly sequential:
// the loop waits for each reducer before dequeuing the next change.
func WithReduceOn(exec Executor) Option {
	return func(o *options) {
		o.reduceOn = exec
	}
}

// WithRecorder records every published state as an ir.Transition.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDGenerator sets the knot instance ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}
