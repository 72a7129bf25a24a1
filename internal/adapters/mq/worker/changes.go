package worker

import (
	"context"
	"sync"
	"time"

	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

const defaultChangeAttempts = 3

// ChangeHandler reacts to one change notification.
type ChangeHandler interface {
	Handle(ctx context.Context, c model.Change) error
}

// ChangeSource exposes ordered partitions of the change stream.
type ChangeSource interface {
	Partitions() []<-chan model.Change
}

// ChangePool runs one consumer per stream partition so that changes of one
// game are handled strictly in order.
type ChangePool struct {
	source   ChangeSource
	handler  ChangeHandler
	deduper  dedupe.Deduper
	attempts int
	logger   logger.Logger

	wg sync.WaitGroup
}

// NewChangePool creates a pool over source.
func NewChangePool(source ChangeSource, handler ChangeHandler, opts ...ChangeOption) *ChangePool {
	p := &ChangePool{
		source:   source,
		handler:  handler,
		attempts: defaultChangeAttempts,
		logger:   logger.Named("change-consumer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the partition consumers. They exit when their partition is
// closed or ctx is cancelled.
func (p *ChangePool) Start(ctx context.Context) {
	for _, ch := range p.source.Partitions() {
		p.wg.Add(1)
		go p.consume(ctx, ch)
	}
}

// Wait blocks until every consumer has exited or ctx expires.
func (p *ChangePool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "change consumers did not drain in time")
		return ctx.Err()
	}
}

func (p *ChangePool) consume(ctx context.Context, ch <-chan model.Change) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			p.deliver(ctx, c)
		}
	}
}

// deliver handles c, redelivering on failure up to the attempt bound.
func (p *ChangePool) deliver(ctx context.Context, c model.Change) {
	if p.deduper != nil && c.ID != "" && p.deduper.SeenAndRecord(ctx, c.ID) {
		metrics.RecordChangeDuplicate()
		p.logger.Debug(ctx, "duplicate change skipped", logger.String("changeId", c.ID))
		return
	}

	start := time.Now()
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, c); err == nil {
			metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
			return
		}
		p.logger.Warn(ctx, "change handling failed",
			logger.String("changeId", c.ID),
			logger.String("gameId", c.Key()),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "change_handler")
	if p.deduper != nil && c.ID != "" {
		p.deduper.Unrecord(ctx, c.ID)
	}
	p.logger.Error(ctx, "change dropped",
		logger.String("changeId", c.ID),
		logger.String("gameId", c.Key()),
		logger.String("kind", string(c.Kind)),
		logger.Error(err),
	)
}
