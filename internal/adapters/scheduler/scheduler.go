// Package scheduler holds the recurrence triggers: one one-time job per game
// that completes the game when its next occurrence is reached.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/okian/arena/internal/domain/schedule"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

const defaultFireTimeout = 5 * time.Minute

// FireFunc is invoked when a game's trigger fires.
type FireFunc func(ctx context.Context, gameID string) error

// Option configures a Registry.
type Option func(*Registry)

// WithLocation sets the scheduler time zone.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFireTimeout bounds one firing.
func WithFireTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fireTimeout = d
		}
	}
}

// Registry keeps at most one pending trigger per game, tagged by game id.
type Registry struct {
	sched       gocron.Scheduler
	fire        FireFunc
	location    *time.Location
	fireTimeout time.Duration
	logger      logger.Logger
}

// NewRegistry creates a registry. Call Start to begin firing.
func NewRegistry(fire FireFunc, opts ...Option) (*Registry, error) {
	r := &Registry{
		fire:        fire,
		location:    time.Local,
		fireTimeout: defaultFireTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("scheduler")
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(r.location))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r.sched = sched
	return r, nil
}

// Register replaces any trigger of gameID with one firing at occ.At.
// An occurrence already due fires immediately.
func (r *Registry) Register(ctx context.Context, gameID string, occ schedule.Occurrence) error {
	r.sched.RemoveByTags(gameID)

	start := gocron.OneTimeJobStartDateTime(occ.At)
	if !occ.At.After(time.Now()) {
		start = gocron.OneTimeJobStartImmediately()
	}
	_, err := r.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(r.run, gameID),
		gocron.WithName(occ.Expr.Cron()),
		gocron.WithTags(gameID),
	)
	if err != nil {
		return fmt.Errorf("register trigger for %s: %w", gameID, err)
	}
	metrics.RecordTrigger("registered")
	r.logger.Debug(ctx, "trigger registered",
		logger.String("gameId", gameID),
		logger.String("expression", occ.Expr.String()),
	)
	return nil
}

// Cancel removes the pending trigger of gameID, if any.
func (r *Registry) Cancel(ctx context.Context, gameID string) error {
	if !r.Pending(gameID) {
		return nil
	}
	r.sched.RemoveByTags(gameID)
	metrics.RecordTrigger("cancelled")
	r.logger.Debug(ctx, "trigger cancelled", logger.String("gameId", gameID))
	return nil
}

// Pending reports whether gameID has a trigger.
func (r *Registry) Pending(gameID string) bool {
	for _, j := range r.sched.Jobs() {
		if slices.Contains(j.Tags(), gameID) {
			return true
		}
	}
	return false
}

func (r *Registry) run(gameID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.fireTimeout)
	defer cancel()

	metrics.RecordTrigger("fired")
	if err := r.fire(ctx, gameID); err != nil {
		metrics.RecordErrorByComponent("scheduler", "fire")
		r.logger.Error(ctx, "trigger firing failed", logger.String("gameId", gameID), logger.Error(err))
	}
}

// Start begins firing triggers.
func (r *Registry) Start() {
	r.sched.Start()
}

// Shutdown stops the scheduler and waits for running firings.
func (r *Registry) Shutdown() error {
	return r.sched.Shutdown()
}
