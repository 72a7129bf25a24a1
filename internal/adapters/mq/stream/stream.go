// Package stream carries ordered change notifications from the primary store
// to their consumers. Changes for the same game always land on the same
// partition, so per-game order is kept while different games proceed in
// parallel.
package stream

import (
	"context"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/metrics"
)

const defaultBuffer = 1024

// Partitioned is a key-partitioned in-memory change stream.
type Partitioned struct {
	mu         sync.RWMutex
	partitions []chan model.Change
	closed     bool
}

// Option configures a Partitioned stream.
type Option func(*settings)

type settings struct {
	partitions int
	buffer     int
}

// WithPartitions sets the number of ordered partitions.
func WithPartitions(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.partitions = n
		}
	}
}

// WithBuffer sets the per-partition buffer.
func WithBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// NewPartitioned creates a stream.
func NewPartitioned(opts ...Option) *Partitioned {
	s := settings{partitions: runtime.NumCPU(), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&s)
	}
	p := &Partitioned{partitions: make([]chan model.Change, s.partitions)}
	for i := range p.partitions {
		p.partitions[i] = make(chan model.Change, s.buffer)
	}
	return p
}

// Partition returns the partition index for a game id.
func (p *Partitioned) Partition(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.partitions)))
}

// Publish appends c to its game's partition, blocking while the partition
// is full.
func (p *Partitioned) Publish(ctx context.Context, c model.Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.partitions[p.Partition(c.Key())] <- c:
		metrics.RecordChangeEvent(string(c.Kind))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Partitions returns one receive channel per partition. Each channel must
// be drained by a single consumer to keep order.
func (p *Partitioned) Partitions() []<-chan model.Change {
	out := make([]<-chan model.Change, len(p.partitions))
	for i, ch := range p.partitions {
		out[i] = ch
	}
	return out
}

// Close stops accepting changes and closes every partition.
func (p *Partitioned) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, ch := range p.partitions {
		close(ch)
	}
	return nil
}
