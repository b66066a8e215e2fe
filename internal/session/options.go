package session

import (
	"context"
	"time"
)

// Logger is the structured logger the session writes to. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// LoadObserver is implemented by recorders that also export load statistics.
type LoadObserver interface {
	ObserveLoad(stats Stats)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// DefaultCacheSize is the number of memoized report results kept.
const DefaultCacheSize = 256

type options struct {
	logger    Logger
	metrics   MetricsRecorder
	clock     Clock
	cacheSize int
}

func defaultOptions() options {
	return options{
		logger:    noopLogger{},
		metrics:   noopMetricsRecorder{},
		clock:     ClockFunc(func() time.Time { return time.Now().UTC() }),
		cacheSize: DefaultCacheSize,
	}
}

// Option customises a Session.
type Option func(*options)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder; nil keeps the no-op default.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the clock used for load timestamps and timings.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCacheSize sets the report memo size. Zero disables memoization.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.cacheSize = n
		}
	}
}
