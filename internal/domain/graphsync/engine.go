// Package graphsync keeps the graph representation of games in step with
// the primary store by reacting to its change notifications.
package graphsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/arena/internal/adapters/graph"
	"github.com/okian/arena/internal/adapters/notify"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/schedule"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
	"github.com/okian/arena/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBatchSize = 25
	defaultEdgeDelay = 45 * time.Second
)

// Graph is the part of the graph collaborator the engine writes to.
type Graph interface {
	UpsertNodes(ctx context.Context, nodes []model.Node) (graph.Outcome, error)
	DeleteNode(ctx context.Context, id string) (graph.Outcome, error)
}

// Queue is the delay queue feeding the edge writers.
type Queue interface {
	Enqueue(ctx context.Context, msg model.EdgeBatch, delay time.Duration) error
}

// Triggers holds recurrence triggers.
type Triggers interface {
	Register(ctx context.Context, gameID string, occ schedule.Occurrence) error
	Cancel(ctx context.Context, gameID string) error
}

// Scheduler computes a game's next occurrence.
type Scheduler interface {
	Next(g model.Game) (schedule.Occurrence, bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the maximum number of edges per queued batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithEdgeDelay sets how long a batch stays invisible after enqueue.
func WithEdgeDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.edgeDelay = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for change spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Engine translates change notifications into graph writes, queued edge
// batches, trigger bookkeeping and duel notifications.
type Engine struct {
	graph     Graph
	queue     Queue
	triggers  Triggers
	scheduler Scheduler
	publisher notify.Publisher

	batchSize int
	edgeDelay time.Duration
	tracer    trace.Tracer
	logger    logger.Logger
}

// NewEngine creates an engine.
func NewEngine(g Graph, q Queue, t Triggers, s Scheduler, p notify.Publisher, opts ...Option) *Engine {
	e := &Engine{
		graph:     g,
		queue:     q,
		triggers:  t,
		scheduler: s,
		publisher: p,
		batchSize: defaultBatchSize,
		edgeDelay: defaultEdgeDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Named("graphsync")
	}
	if e.tracer == nil {
		e.tracer = tracing.Tracer("graphsync")
	}
	return e
}

// Handle applies one change. Every step is idempotent, so a redelivered
// change converges to the same graph. The returned error is meant for the
// transport's redelivery; the primary record is never affected.
func (e *Engine) Handle(ctx context.Context, c model.Change) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "graphsync.Handle", trace.WithAttributes(
		attribute.String("game.id", c.Key()),
		attribute.String("change.kind", string(c.Kind)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch c.Kind {
	case model.ChangeInsert:
		return e.onInsert(ctx, *c.New)
	case model.ChangeModify:
		return e.onModify(ctx, *c.Old, *c.New)
	case model.ChangeRemove:
		return e.onRemove(ctx, *c.Old)
	}
	return nil
}

func (e *Engine) onInsert(ctx context.Context, g model.Game) error {
	var errs []error
	if err := e.Sync(ctx, g); err != nil {
		errs = append(errs, err)
	}
	if occ, ok := e.scheduler.Next(g); ok {
		if err := e.triggers.Register(ctx, g.GameID, occ); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) onModify(ctx context.Context, old, cur model.Game) error {
	var err error
	archived := !old.IsArchived && cur.IsArchived
	completed := !old.IsComplete && cur.IsComplete
	if archived || completed {
		err = e.Remove(ctx, old.GameID)
	}
	if cur.IsDuel && cur.IsDeclined && !old.IsDeclined {
		to := []string{cur.CreatedBy}
		if cur.CreatedBy == "" {
			to = participantIDs(cur.Profiles)
		}
		e.publisher.Publish(ctx, notify.DuelDeclined, notify.Event{
			GameID:     cur.GameID,
			ClientID:   cur.ClientID,
			Recipients: to,
		})
	}
	return err
}

func (e *Engine) onRemove(ctx context.Context, old model.Game) error {
	if !old.IsArchived {
		return e.triggers.Cancel(ctx, old.GameID)
	}
	return e.Remove(ctx, old.GameID)
}

// Sync upserts both nodes of g in one call and queues its edges in delayed
// batches so the nodes are committed before any edge refers to them.
func (e *Engine) Sync(ctx context.Context, g model.Game) error {
	rep := Build(g)
	out, err := e.graph.UpsertNodes(ctx, rep.Nodes)
	if err != nil {
		e.logger.Error(ctx, "node upsert failed", logger.String("gameId", g.GameID), logger.Error(err))
		return fmt.Errorf("upsert nodes of %s: %w", g.GameID, err)
	}
	if out != graph.OutcomeOK {
		e.logger.Warn(ctx, "node upsert wrote nothing", logger.String("gameId", g.GameID))
	}

	batches := Batches(g.GameID, rep.Edges, e.batchSize)
	for _, b := range batches {
		if err := e.queue.Enqueue(ctx, b, e.edgeDelay); err != nil {
			e.logger.Error(ctx, "edge batch enqueue failed",
				logger.String("gameId", g.GameID),
				logger.String("batchId", b.ID),
				logger.Error(err),
			)
			return fmt.Errorf("%w: %s: %w", ErrEnqueue, b.ID, err)
		}
		metrics.RecordEdgeBatch("enqueued")
	}
	e.logger.Debug(ctx, "graph sync queued",
		logger.String("gameId", g.GameID),
		logger.Int("edges", len(rep.Edges)),
		logger.Int("batches", len(batches)),
	)
	return nil
}

// Remove cancels the game's trigger and deletes its graph node.
func (e *Engine) Remove(ctx context.Context, gameID string) error {
	var errs []error
	if err := e.triggers.Cancel(ctx, gameID); err != nil {
		errs = append(errs, fmt.Errorf("cancel trigger of %s: %w", gameID, err))
	}
	out, err := e.graph.DeleteNode(ctx, gameID)
	if err != nil {
		e.logger.Error(ctx, "node delete failed", logger.String("gameId", gameID), logger.Error(err))
		errs = append(errs, fmt.Errorf("delete node %s: %w", gameID, err))
	} else if out == graph.OutcomeEmpty {
		e.logger.Debug(ctx, "node already absent", logger.String("gameId", gameID))
	}
	return errors.Join(errs...)
}

func participantIDs(ps []model.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.EntityID)
	}
	return out
}
