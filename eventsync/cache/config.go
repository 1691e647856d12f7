package cache

import (
	"time"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
)

type options struct {
	now     func() time.Time
	backend Backend
	logger  eventsync.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBackend persists entries so they survive restarts.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the logger.
func WithLogger(l eventsync.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
