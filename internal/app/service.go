// Package service wires the stores, the asynchronous consumers, the trigger
// registry and the domain services into one runnable unit that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/arena/internal/adapters/graph"
	"github.com/okian/arena/internal/adapters/mq/queue"
	"github.com/okian/arena/internal/adapters/mq/stream"
	"github.com/okian/arena/internal/adapters/mq/worker"
	"github.com/okian/arena/internal/adapters/notify"
	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/adapters/scheduler"
	"github.com/okian/arena/internal/config"
	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/internal/domain/graphsync"
	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/roster"
	"github.com/okian/arena/internal/domain/schedule"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// restorePageSize is the page size used to scan games on start.
const restorePageSize = 100

// GameStore is a primary store that also keeps the entity lookup.
type GameStore interface {
	repository.Store
	roster.Directory
	PutIdentity(ctx context.Context, id model.Identity) error
}

// Service implements the API dependencies of the game platform.
type Service struct {
	mu sync.RWMutex

	cfg       *config.Config
	publisher notify.Publisher

	// Collaborators
	store  GameStore
	shared bool // store supplied by WithStore, not closed by Stop
	graph  *graph.Store
	stream *stream.Partitioned
	queue  *queue.DelayQueue

	// Consumers
	edgePool   *worker.Pool
	changePool *worker.ChangePool
	triggers   *scheduler.Registry

	lifecycle *lifecycle.Service
	engine    *graphsync.Engine

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithPublisher sets the notification publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithStore makes the service use store instead of opening one from the
// configuration. Stop leaves it open.
func WithStore(store GameStore) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.shared = true
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the stores and launches the consumers and the trigger registry.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	if s.publisher == nil {
		s.publisher = notify.NewLogPublisher(nil)
	}
	cfg := s.cfg
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	s.logger.Info(ctx, "starting game service...")

	s.stream = stream.NewPartitioned(
		stream.WithPartitions(cfg.StreamPartitions),
		stream.WithBuffer(cfg.StreamBuffer),
	)
	if err := s.openStores(ctx); err != nil {
		_ = s.stream.Close()
		return err
	}

	calc := schedule.NewCalculator(schedule.WithLocation(loc))
	resolver := roster.NewResolver(s.graph, s.store,
		roster.WithPageSize(cfg.RosterPageSize),
		roster.WithSubGroupCap(cfg.RosterCreateSubGroupCap),
		roster.WithLookupBatch(cfg.RosterLookupBatch),
		roster.WithMaxUsers(cfg.RosterMaxUsers),
	)
	s.lifecycle = lifecycle.NewService(s.store, resolver, calc, s.publisher)

	lc := s.lifecycle
	fire := func(ctx context.Context, gameID string) error {
		_, err := lc.CompleteAndResolve(ctx, gameID)
		return err
	}
	triggers, err := scheduler.NewRegistry(fire, scheduler.WithLocation(loc))
	if err != nil {
		s.closeStores(ctx)
		_ = s.stream.Close()
		return err
	}
	s.triggers = triggers

	s.queue = queue.NewDelayQueue(queue.WithCapacity(cfg.QueueCapacity))
	s.engine = graphsync.NewEngine(s.graph, s.queue, s.triggers, calc, s.publisher,
		graphsync.WithBatchSize(cfg.EdgeBatchSize),
		graphsync.WithEdgeDelay(cfg.EdgeDelay()),
	)
	s.edgePool = worker.NewPool(cfg.EdgeWorkerCount, s.queue, s.graph,
		worker.WithMaxReceives(cfg.MaxReceiveCount),
		worker.WithRedeliveryDelay(cfg.EdgeDelay()),
	)
	s.changePool = worker.NewChangePool(s.stream, s.engine,
		worker.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.edgePool.Start(runCtx)
	s.changePool.Start(runCtx)
	s.triggers.Start()
	s.started = true

	restored, err := s.restoreTriggers(ctx, calc, loc)
	if err != nil {
		metrics.RecordErrorByComponent("service", "restore_triggers")
		s.logger.Error(ctx, "recurrence triggers not fully restored", logger.Error(err))
	}
	s.logger.Info(ctx, "game service started",
		logger.Int("edgeWorkers", cfg.EdgeWorkerCount),
		logger.Int("partitions", len(s.stream.Partitions())),
		logger.Int("triggers", restored),
		logger.Bool("postgres", cfg.DatabaseURL != ""),
		logger.Bool("graphFile", cfg.GraphPath != ""),
	)
	return nil
}

// restoreTriggers registers a trigger for every unarchived game in the
// store, since triggers only live in memory. A game whose end date passed
// while no process was running fires at once.
func (s *Service) restoreTriggers(ctx context.Context, calc *schedule.Calculator, loc *time.Location) (int, error) {
	restored := 0
	token := ""
	for {
		page, err := s.store.Unarchived(ctx, token, restorePageSize)
		if err != nil {
			return restored, fmt.Errorf("list unarchived games: %w", err)
		}
		for _, g := range page.Items {
			occ, ok := calc.Next(g)
			if !ok {
				if g.IsComplete || g.EndDate.IsZero() {
					continue
				}
				end := g.EndDate.In(loc)
				occ = schedule.Occurrence{At: end, Expr: schedule.ExpressionFor(end)}
			}
			if err := s.triggers.Register(ctx, g.GameID, occ); err != nil {
				return restored, err
			}
			restored++
		}
		if page.NextPageToken == "" {
			return restored, nil
		}
		token = page.NextPageToken
	}
}

func (s *Service) openStores(ctx context.Context) error {
	sink := repository.WithChangeSink(s.stream)
	if s.shared {
		if r, ok := s.store.(interface{ SetChangeSink(repository.ChangeSink) }); ok {
			r.SetChangeSink(s.stream)
		}
	} else if s.cfg.DatabaseURL != "" {
		pg, err := repository.OpenPostgres(ctx, s.cfg.DatabaseURL, sink)
		if err != nil {
			return fmt.Errorf("open game store: %w", err)
		}
		s.store = pg
		s.logger.Info(ctx, "using postgres game store")
	} else {
		s.store = repository.NewMemoryStore(sink)
		s.logger.Info(ctx, "using in-memory game store")
	}

	g, err := graph.Open(ctx, s.cfg.GraphPath)
	if err != nil {
		s.closeStores(ctx)
		return fmt.Errorf("open graph store: %w", err)
	}
	s.graph = g
	return nil
}

func (s *Service) closeStores(ctx context.Context) {
	if closer, ok := s.store.(interface{ Close() error }); ok && !s.shared {
		if err := closer.Close(); err != nil {
			s.logger.Error(ctx, "error closing game store", logger.Error(err))
		}
	}
	if s.graph != nil {
		if err := s.graph.Close(); err != nil {
			s.logger.Error(ctx, "error closing graph store", logger.Error(err))
		}
	}
}

// Stop drains the consumers in dependency order and closes the stores.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping game service...")

	var errs []error
	if err := s.triggers.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	// Closing the stream lets every partition consumer drain and exit.
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.changePool.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.edgePool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	s.closeStores(ctx)

	s.started = false
	s.logger.Info(ctx, "game service stopped")
	return errors.Join(errs...)
}

func (s *Service) ready() (*lifecycle.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.lifecycle, nil
}

// Get returns a game by id.
func (s *Service) Get(ctx context.Context, id string) (model.Game, error) {
	lc, err := s.ready()
	if err != nil {
		return model.Game{}, err
	}
	return lc.Get(ctx, id)
}

// List pages through a client's games.
func (s *Service) List(ctx context.Context, q repository.Query) (repository.Page, error) {
	lc, err := s.ready()
	if err != nil {
		return repository.Page{}, err
	}
	return lc.List(ctx, q)
}

// Create creates a game.
func (s *Service) Create(ctx context.Context, req lifecycle.CreateRequest) (model.Game, error) {
	lc, err := s.ready()
	if err != nil {
		return model.Game{}, err
	}
	return lc.Create(ctx, req)
}

// Update replaces a game with a new record.
func (s *Service) Update(ctx context.Context, g model.Game) (model.Game, error) {
	lc, err := s.ready()
	if err != nil {
		return model.Game{}, err
	}
	return lc.Update(ctx, g)
}

// AcceptDuel accepts a pending duel.
func (s *Service) AcceptDuel(ctx context.Context, id string) (bool, error) {
	lc, err := s.ready()
	if err != nil {
		return false, err
	}
	return lc.AcceptDuel(ctx, id)
}

// DeclineDuel declines and archives a duel.
func (s *Service) DeclineDuel(ctx context.Context, id string) (model.Game, error) {
	lc, err := s.ready()
	if err != nil {
		return model.Game{}, err
	}
	return lc.DeclineDuel(ctx, id)
}

// CompleteAndResolve completes a game now.
func (s *Service) CompleteAndResolve(ctx context.Context, id string) (lifecycle.Completion, error) {
	lc, err := s.ready()
	if err != nil {
		return lifecycle.Completion{}, err
	}
	return lc.CompleteAndResolve(ctx, id)
}

// DeleteGame archives a game.
func (s *Service) DeleteGame(ctx context.Context, id string) error {
	lc, err := s.ready()
	if err != nil {
		return err
	}
	return lc.DeleteGame(ctx, id)
}

// UserGames returns the games a user competes in, newest first, by walking
// user -> game group -> game in the graph and loading the records.
func (s *Service) UserGames(ctx context.Context, userID string) ([]model.Game, error) {
	if _, err := s.ready(); err != nil {
		return nil, err
	}
	nodes, err := graph.Walk(ctx, s.graph, userID, model.EdgeInCompetitionWith, model.EdgeHasGame)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == model.NodeTypeGame {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return []model.Game{}, nil
	}
	games, err := s.store.BatchGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(games, func(a, b model.Game) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return games, nil
}

// PutIdentity records what the entity lookup knows about a user.
func (s *Service) PutIdentity(ctx context.Context, id model.Identity) error {
	if _, err := s.ready(); err != nil {
		return err
	}
	return s.store.PutIdentity(ctx, id)
}

// Graph exposes the graph store for the organisational hierarchy, which is
// maintained outside the game lifecycle.
func (s *Service) Graph() *graph.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// Pending reports whether a recurrence trigger is registered for gameID.
func (s *Service) Pending(gameID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false
	}
	return s.triggers.Pending(gameID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":        s.started,
		"edgeWorkers":    s.cfg.EdgeWorkerCount,
		"queueCapacity":  s.cfg.QueueCapacity,
		"edgeBatchSize":  s.cfg.EdgeBatchSize,
		"edgeDelay":      s.cfg.EdgeDelay().String(),
		"postgresStore":  s.cfg.DatabaseURL != "",
		"persistedGraph": s.cfg.GraphPath != "",
	}
	if s.started {
		queueLen := s.queue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["partitions"] = len(s.stream.Partitions())
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
