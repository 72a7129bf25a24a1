// Package queue is the delay-queue collaborator: messages become visible to
// consumers only after their delay has elapsed.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 100000
	defaultBufferSize    = 1024
	drainPollInterval    = 5 * time.Millisecond
)

// Message is the payload type flowing through the queue.
type Message = model.EdgeBatch

// Queue accepts delayed messages and hands them out once visible.
type Queue interface {
	// Enqueue schedules msg to become visible after delay.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error

	// Dequeue returns a channel that receives messages as they become visible.
	// The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Message

	// Len returns the number of messages not yet handed out.
	Len(ctx context.Context) int

	// Drain makes every delayed message visible now and waits until all of
	// them reached the ready channel. Messages enqueued afterwards skip
	// their delay.
	Drain(ctx context.Context) error

	// Close stops the queue. Messages still delayed are discarded, ready
	// ones are still handed out.
	Close() error

	IsClosed() bool
}

type pending struct {
	msg       Message
	visibleAt time.Time
	seq       uint64
}

type pendingHeap []pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].visibleAt.Equal(h[j].visibleAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].visibleAt.Before(h[j].visibleAt)
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// DelayQueue implements Queue in memory. A single pump goroutine moves due
// messages from a time-ordered heap into the ready channel.
type DelayQueue struct {
	mu       sync.Mutex
	delayed  pendingHeap
	seq      uint64
	ready    chan Message
	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	closed   bool
	draining bool
	moving   int // popped by the pump, not yet in ready
	capacity int
	buffer   int
	now      func() time.Time
	logger   logger.Logger
}

// NewDelayQueue creates a queue and starts its pump.
func NewDelayQueue(opts ...Option) *DelayQueue {
	q := &DelayQueue{
		capacity: defaultQueueCapacity,
		buffer:   defaultBufferSize,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Named("queue")
	}
	q.ready = make(chan Message, q.buffer)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	go q.pump()
	return q
}

// Enqueue schedules msg. It fails with ErrQueueClosed or ErrQueueFull.
func (q *DelayQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrQueueClosed
	}
	if q.delayed.Len()+len(q.ready) >= q.capacity {
		q.mu.Unlock()
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return ErrQueueFull
	}
	q.seq++
	heap.Push(&q.delayed, pending{msg: msg, visibleAt: q.now().Add(delay), seq: q.seq})
	size := q.delayed.Len() + len(q.ready)
	q.mu.Unlock()

	metrics.RecordQueueEnqueue()
	q.updateGauges(size)
	q.signal()
	return nil
}

func (q *DelayQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DelayQueue) updateGauges(size int) {
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// nextDue pops every visible message and returns the wait until the next one.
func (q *DelayQueue) nextDue() ([]pending, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var due []pending
	for q.delayed.Len() > 0 && (q.draining || !q.delayed[0].visibleAt.After(now)) {
		due = append(due, heap.Pop(&q.delayed).(pending))
	}
	q.moving = len(due)
	if q.delayed.Len() == 0 {
		return due, 0, false
	}
	return due, q.delayed[0].visibleAt.Sub(now), true
}

func (q *DelayQueue) pump() {
	defer close(q.stopped)
	defer close(q.ready)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait, more := q.nextDue()
		for _, p := range due {
			start := time.Now()
			select {
			case q.ready <- p.msg:
				q.mu.Lock()
				q.moving--
				q.mu.Unlock()
				metrics.RecordQueueProcessingLatency(float64(time.Since(start).Milliseconds()))
			case <-q.done:
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		var tick <-chan time.Time
		if more {
			timer.Reset(wait)
			tick = timer.C
		}

		select {
		case <-q.done:
			return
		case <-q.wake:
		case <-tick:
		}
	}
}

// Dequeue returns a channel of visible messages.
func (q *DelayQueue) Dequeue(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for msg := range q.ready {
			select {
			case out <- msg:
				metrics.RecordQueueDequeue()
				q.updateGauges(q.Len(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the number of delayed plus ready messages.
func (q *DelayQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delayed.Len() + len(q.ready)
}

// Drain flushes the delayed messages to the ready channel. It fails with
// ErrQueueClosed on a closed queue, or with ctx's error when consumers do
// not keep up before ctx is done.
func (q *DelayQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.draining = true
	q.mu.Unlock()
	q.signal()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		left := q.delayed.Len() + q.moving
		q.mu.Unlock()
		if left == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain with %d delayed messages: %w", left, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops the pump. Messages already in the ready channel are still
// delivered to Dequeue consumers, then their channels close.
func (q *DelayQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := q.delayed.Len()
	q.delayed = nil
	q.mu.Unlock()

	close(q.done)
	<-q.stopped
	if dropped > 0 {
		q.logger.Warn(context.Background(), "queue closed with delayed messages", logger.Int("dropped", dropped))
	}
	return nil
}

// IsClosed reports whether Close was called.
func (q *DelayQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
