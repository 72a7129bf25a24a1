package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Option configures a store.
type Option func(*options)

type options struct {
	sink   ChangeSink
	logger logger.Logger
	now    func() time.Time
}

// WithChangeSink forwards every committed write as a model.Change.
func WithChangeSink(sink ChangeSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source of change timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("repository")
	}
	return o
}

// emit forwards a change to the sink. A sink failure does not undo the
// write; it is logged and counted.
func (o options) emit(ctx context.Context, kind model.ChangeKind, old, cur *model.Game) {
	if o.sink == nil {
		return
	}
	c := model.Change{ID: uuid.NewString(), Kind: kind, Old: old, New: cur, At: o.now()}
	if err := o.sink.Publish(ctx, c); err != nil {
		metrics.RecordErrorByComponent("repository", "change_sink")
		o.logger.Error(ctx, "change notification dropped",
			logger.String("gameId", c.Key()),
			logger.String("kind", string(kind)),
			logger.Error(err),
		)
	}
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// MemoryStore is an in-process Store and roster Directory.
type MemoryStore struct {
	mu         sync.Mutex
	games      map[string]model.Game
	identities map[string]model.Identity
	opts       options
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		games:      make(map[string]model.Game),
		identities: make(map[string]model.Identity),
		opts:       buildOptions(opts),
	}
}

// Get returns a copy of the stored game.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Game, error) {
	defer observe("get", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return model.Game{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return g.Clone(), nil
}

// Put inserts or replaces g and emits INSERT or MODIFY.
func (s *MemoryStore) Put(ctx context.Context, g model.Game) error {
	defer observe("put", time.Now())
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := g.Clone()
	old, existed := s.games[g.GameID]
	s.games[g.GameID] = cur

	next := cur.Clone()
	if existed {
		prev := old.Clone()
		s.opts.emit(ctx, model.ChangeModify, &prev, &next)
	} else {
		s.opts.emit(ctx, model.ChangeInsert, nil, &next)
	}
	return nil
}

// Update applies patch in place and emits MODIFY.
func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (model.Game, error) {
	defer observe("update", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.games[id]
	if !ok {
		return model.Game{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := old.Clone()
	patch.Apply(&cur)
	cur.UpdatedAt = s.opts.now()
	s.games[id] = cur

	prev, next := old.Clone(), cur.Clone()
	s.opts.emit(ctx, model.ChangeModify, &prev, &next)
	return cur.Clone(), nil
}

// Delete removes the game and emits REMOVE when it existed.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.games[id]
	if !ok {
		return nil
	}
	delete(s.games, id)
	prev := old.Clone()
	s.opts.emit(ctx, model.ChangeRemove, &prev, nil)
	return nil
}

// Query lists a client's games newest first.
func (s *MemoryStore) Query(_ context.Context, q Query) (Page, error) {
	defer observe("query", time.Now())
	if q.ClientID == "" {
		return Page{}, ErrNoClient
	}
	offset, limit, err := pageBounds(q)
	if err != nil {
		return Page{}, err
	}

	s.mu.Lock()
	matched := make([]model.Game, 0)
	for _, g := range s.games {
		if g.ClientID != q.ClientID || !q.Status.Matches(g) {
			continue
		}
		if q.Duel != nil && g.IsDuel != *q.Duel {
			continue
		}
		matched = append(matched, g.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].GameID > matched[j].GameID
	})

	if offset >= len(matched) {
		return Page{Items: []model.Game{}}, nil
	}
	window := matched[offset:]
	page := Page{NextPageToken: nextToken(offset, limit, len(window))}
	if len(window) > limit {
		window = window[:limit]
	}
	page.Items = window
	return page, nil
}

// Unarchived pages through the games not archived yet, by game id.
func (s *MemoryStore) Unarchived(_ context.Context, pageToken string, limit int) (Page, error) {
	defer observe("unarchived", time.Now())
	offset, limit, err := pageBounds(Query{PageToken: pageToken, Limit: limit})
	if err != nil {
		return Page{}, err
	}

	s.mu.Lock()
	matched := make([]model.Game, 0)
	for _, g := range s.games {
		if !g.IsArchived {
			matched = append(matched, g.Clone())
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].GameID < matched[j].GameID })

	if offset >= len(matched) {
		return Page{Items: []model.Game{}}, nil
	}
	window := matched[offset:]
	page := Page{NextPageToken: nextToken(offset, limit, len(window))}
	if len(window) > limit {
		window = window[:limit]
	}
	page.Items = window
	return page, nil
}

// SetChangeSink replaces the sink that receives the store's changes.
func (s *MemoryStore) SetChangeSink(sink ChangeSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.sink = sink
}

// BatchGet returns the games among ids that exist.
func (s *MemoryStore) BatchGet(_ context.Context, ids []string) ([]model.Game, error) {
	defer observe("batch_get", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Game, 0, len(ids))
	for _, id := range ids {
		if g, ok := s.games[id]; ok {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

// PutIdentity registers a user for roster lookups.
func (s *MemoryStore) PutIdentity(_ context.Context, id model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id.EntityID] = id
	return nil
}

// GetByIDs returns the known identities among ids, in request order.
func (s *MemoryStore) GetByIDs(_ context.Context, ids []string) ([]model.Identity, error) {
	defer observe("get_identities", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Identity, 0, len(ids))
	for _, id := range ids {
		if ident, ok := s.identities[id]; ok {
			out = append(out, ident)
		}
	}
	return out, nil
}
