package queue

import (
	"time"

	"github.com/okian/arena/pkg/logger"
)

// Option applies a configuration option to the DelayQueue.
type Option func(*DelayQueue)

// WithCapacity sets the maximum number of messages held at once.
func WithCapacity(capacity int) Option {
	return func(q *DelayQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithBufferSize sets the size of the ready channel.
func WithBufferSize(size int) Option {
	return func(q *DelayQueue) {
		if size > 0 {
			q.buffer = size
		}
	}
}

// WithClock overrides the time source used for visibility.
func WithClock(now func() time.Time) Option {
	return func(q *DelayQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(q *DelayQueue) {
		if l != nil {
			q.logger = l
		}
	}
}
