package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
)

// created pairs a stored game with its expected outcome.
type created struct {
	game   model.Game
	winner string
}

func (cfg *Config) withDefaults() *Config {
	out := *cfg
	if out.Games <= 0 {
		out.Games = DefaultGames
	}
	if out.Participants <= 0 {
		out.Participants = DefaultParticipants
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU() * workerChannelFactor
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.SyncWait <= 0 {
		out.SyncWait = DefaultSyncWait
	}
	if out.ClientID == "" {
		out.ClientID = "loadtest"
	}
	return &out
}

// Run executes the complete load test.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	cfg := config.withDefaults()
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("loadtest")
	c := newClient(cfg)

	log.Info(ctx, "starting load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("games", cfg.Games),
		logger.Int("participants", cfg.Participants),
		logger.Int("workers", cfg.Workers),
	)

	// Step 1: Check service health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Create games concurrently
	plan := generateGames(cfg, time.Now())
	games := createGames(ctx, cfg, c, plan, stats)
	log.Info(ctx, "games created",
		logger.Int("created", int(stats.Created)),
		logger.Int("failed", int(stats.CreateFail)),
	)

	// Step 3: Wait for the graph projection of every game
	waitForSync(ctx, cfg, c, games, stats)
	log.Info(ctx, "graph projection checked", logger.Int("synced", int(stats.Synced)))

	// Step 4: Complete and verify
	if err := completeGames(ctx, cfg, c, games, stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "load test finished",
		logger.Int("completed", int(stats.Completed)),
		logger.Int("draws", int(stats.Draws)),
		logger.Int("mismatches", int(stats.Mismatches)),
		logger.Duration("duration", stats.Duration),
	)
	return stats, verify(stats)
}

// fanOut runs fn for every item on a fixed number of goroutines.
func fanOut[T any](ctx context.Context, workers int, items []T, fn func(T)) {
	ch := make(chan T, workers*workerChannelFactor)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range ch {
				if ctx.Err() != nil {
					continue
				}
				fn(it)
			}
		}()
	}
feed:
	for _, it := range items {
		select {
		case <-ctx.Done():
			break feed
		case ch <- it:
		}
	}
	close(ch)
	wg.Wait()
}

func createGames(ctx context.Context, cfg *Config, c *client, plan []planned, stats *Stats) []created {
	var (
		mu  sync.Mutex
		out = make([]created, 0, len(plan))
		log = logger.Named("loadtest")
	)
	fanOut(ctx, cfg.Workers, plan, func(p planned) {
		var g model.Game
		if err := c.do(ctx, http.MethodPost, "/games", p.request, &g, http.StatusCreated); err != nil {
			atomic.AddInt64(&stats.CreateFail, 1)
			log.Warn(ctx, "create failed", logger.Error(err))
			return
		}
		atomic.AddInt64(&stats.Created, 1)
		mu.Lock()
		out = append(out, created{game: g, winner: p.winner})
		mu.Unlock()
	})
	return out
}

// waitForSync polls each game's first participant until the game shows up
// in their graph listing or SyncWait elapses.
func waitForSync(ctx context.Context, cfg *Config, c *client, games []created, stats *Stats) {
	deadline := time.Now().Add(cfg.SyncWait)
	fanOut(ctx, cfg.Workers, games, func(g created) {
		if len(g.game.Profiles) == 0 {
			return
		}
		user := g.game.Profiles[0].EntityID
		for {
			var listed []model.Game
			if err := c.do(ctx, http.MethodGet, "/users/"+user+"/games", nil, &listed, http.StatusOK); err == nil {
				for _, l := range listed {
					if l.GameID == g.game.GameID {
						atomic.AddInt64(&stats.Synced, 1)
						return
					}
				}
			}
			if time.Now().After(deadline) || ctx.Err() != nil {
				return
			}
			time.Sleep(pollInterval)
		}
	})
}

func completeGames(ctx context.Context, cfg *Config, c *client, games []created, stats *Stats) error {
	log := logger.Named("loadtest")
	fanOut(ctx, cfg.Workers, games, func(g created) {
		var res lifecycle.Completion
		path := "/games/" + g.game.GameID + "/complete"
		if err := c.do(ctx, http.MethodPost, path, nil, &res, http.StatusOK); err != nil {
			atomic.AddInt64(&stats.Mismatches, 1)
			log.Warn(ctx, "complete failed", logger.String("gameId", g.game.GameID), logger.Error(err))
			return
		}
		atomic.AddInt64(&stats.Completed, 1)
		if !matches(res, g.winner) {
			atomic.AddInt64(&stats.Mismatches, 1)
			log.Error(ctx, "winner mismatch",
				logger.String("gameId", g.game.GameID),
				logger.String("expected", g.winner),
			)
			return
		}
		if res.Winner == nil {
			atomic.AddInt64(&stats.Draws, 1)
		}
	})
	return ctx.Err()
}
