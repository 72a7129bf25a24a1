package worker

import (
	"time"

	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/pkg/logger"
)

// Option applies a configuration option to an EdgeWorker.
type Option func(*EdgeWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *EdgeWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *EdgeWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxReceives bounds how often one batch is attempted.
func WithMaxReceives(n int) Option {
	return func(w *EdgeWorker) {
		if n > 0 {
			w.maxReceives = n
		}
	}
}

// WithRedeliveryDelay sets the visibility delay of a returned batch.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(w *EdgeWorker) {
		if d >= 0 {
			w.redelivery = d
		}
	}
}

// ChangeOption applies a configuration option to a ChangePool.
type ChangeOption func(*ChangePool)

// WithDeduper suppresses change events whose id was already handled.
func WithDeduper(d dedupe.Deduper) ChangeOption {
	return func(p *ChangePool) {
		if d != nil {
			p.deduper = d
		}
	}
}

// WithChangeAttempts bounds how often one change event is handled.
func WithChangeAttempts(n int) ChangeOption {
	return func(p *ChangePool) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithChangeLogger sets a custom logger for the change consumers.
func WithChangeLogger(l logger.Logger) ChangeOption {
	return func(p *ChangePool) {
		if l != nil {
			p.logger = l
		}
	}
}
