package cxmalloc

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/joshuapare/cxmalloc/internal/logger"
)

// Option configures NewFamily.
type Option func(*options)

type options struct {
	log        *slog.Logger
	now        func() time.Time
	workers    int
	serializer LineSerializer
	minAge     time.Duration
}

func defaultOptions() options {
	return options{
		log:     logger.L,
		now:     time.Now,
		workers: runtime.GOMAXPROCS(0),
		minAge:  DefaultMinBlockAge,
	}
}

// DefaultMinBlockAge is how long a lone, fully free block survives before
// it may be deleted.
const DefaultMinBlockAge = 200 * time.Second

// WithLogger sets the family logger. The default is the package logger,
// which discards unless logger.Init was called.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithWorkers bounds the allocators persisted or restored in parallel.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSerializer overrides Descriptor.Serializer.
func WithSerializer(s LineSerializer) Option {
	return func(o *options) { o.serializer = s }
}

// WithMinBlockAge overrides DefaultMinBlockAge.
func WithMinBlockAge(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.minAge = d
		}
	}
}
