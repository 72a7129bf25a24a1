// Package worker runs the asynchronous consumers: edge-batch writers fed by
// the delay queue and change handlers fed by the change stream.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/arena/internal/adapters/graph"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxReceives      = 5
	defaultRedeliveryDelay  = 45 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// EdgeWriter applies edge batches to the graph.
type EdgeWriter interface {
	UpsertEdges(ctx context.Context, edges []model.Edge) (graph.Outcome, error)
}

// Queue is where workers receive batches and return failed ones.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.EdgeBatch
	Enqueue(ctx context.Context, msg model.EdgeBatch, delay time.Duration) error
}

// Worker processes messages until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the in-flight message.
	Shutdown(ctx context.Context) error
}

// EdgeWorker upserts one edge batch per received message. A failed batch is
// put back on the queue with the redelivery delay until it has been
// received maxReceives times, then it is dropped and logged.
type EdgeWorker struct {
	queue       Queue
	writer      EdgeWriter
	name        string
	maxReceives int
	redelivery  time.Duration

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewEdgeWorker creates a worker with configuration options.
func NewEdgeWorker(queue Queue, writer EdgeWriter, opts ...Option) *EdgeWorker {
	w := &EdgeWorker{
		queue:       queue,
		writer:      writer,
		name:        "edge-worker",
		maxReceives: defaultMaxReceives,
		redelivery:  defaultRedeliveryDelay,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "edge-worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *EdgeWorker) Run(ctx context.Context) {
	defer close(w.done)

	batches := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Error(ctx, "edge batch failed",
					logger.String("batchId", b.ID),
					logger.String("gameId", b.GameID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker.
func (w *EdgeWorker) Shutdown(ctx context.Context) error {
	w.stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *EdgeWorker) stop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

func (w *EdgeWorker) process(ctx context.Context, b model.EdgeBatch) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	b.Receives++
	if b.Action != model.EdgeActionInsert {
		metrics.RecordEdgeBatch("dropped")
		return fmt.Errorf("%w: %q", ErrUnknownAction, b.Action)
	}

	out, err := w.writer.UpsertEdges(ctx, b.Edges)
	if err == nil {
		metrics.RecordEdgeBatch("applied")
		w.logger.Debug(ctx, "edge batch applied",
			logger.String("batchId", b.ID),
			logger.Int("edges", len(b.Edges)),
			logger.String("outcome", out.String()),
		)
		return nil
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "edge_upsert")
	if b.Receives >= w.maxReceives {
		metrics.RecordEdgeBatch("dropped")
		return fmt.Errorf("%w after %d receives: %w", ErrDeadLetter, b.Receives, err)
	}
	if qerr := w.queue.Enqueue(ctx, b, w.redelivery); qerr != nil {
		metrics.RecordEdgeBatch("dropped")
		return fmt.Errorf("redeliver: %w (upsert: %w)", qerr, err)
	}
	metrics.RecordEdgeBatch("redelivered")
	w.logger.Warn(ctx, "edge batch redelivery scheduled",
		logger.String("batchId", b.ID),
		logger.Int("receives", b.Receives),
		logger.Error(err),
	)
	return nil
}

// Pool manages multiple edge workers.
type Pool struct {
	workers []*EdgeWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount edge workers.
func NewPool(workerCount int, queue Queue, writer EdgeWriter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*EdgeWorker, workerCount),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}
	for i := range workerCount {
		wopts := append([]Option{WithName("edge-worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewEdgeWorker(queue, writer, wopts...)
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown drains the queue so that delayed batches are applied now,
// closes it and waits for the workers to consume what is left. Workers
// still busy when the timeout passes are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	if d, ok := p.queue.(interface{ Drain(context.Context) error }); ok {
		if err := d.Drain(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "queue not fully drained", logger.Error(err))
		}
	}
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	} else {
		for _, w := range p.workers {
			w.stop()
		}
	}

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			w.stop()
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
