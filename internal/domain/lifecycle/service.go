// Package lifecycle drives games through creation, duel negotiation,
// completion with winner resolution, and recurrence respawn.
package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/okian/arena/internal/adapters/notify"
	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/roster"
	"github.com/okian/arena/internal/domain/schedule"
	"github.com/okian/arena/internal/domain/scoring"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
	"github.com/okian/arena/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RosterResolver expands teams into participants.
type RosterResolver interface {
	Resolve(ctx context.Context, teamIDs []string, mode roster.Mode) roster.Roster
}

// Scheduler computes a game's next occurrence.
type Scheduler interface {
	Next(g model.Game) (schedule.Occurrence, bool)
}

// CreateRequest is the input of Create.
type CreateRequest struct {
	ClientID     string              `json:"clientId"`
	Title        string              `json:"title,omitempty"`
	CreatedBy    string              `json:"createdBy,omitempty"`
	Teams        []string            `json:"teams,omitempty"`
	Participants []model.Participant `json:"profiles,omitempty"`
	KPIID        string              `json:"kpi_id"`
	KPIName      string              `json:"kpi_name"`
	Flip         bool                `json:"flip"`
	Schedule     model.Recurrence    `json:"schedule"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      time.Time           `json:"end_date"`
	IsDuel       bool                `json:"isDuel"`
}

// Completion reports what CompleteAndResolve did.
type Completion struct {
	Game      model.Game         `json:"game"`
	Winner    *model.Participant `json:"winner,omitempty"`
	Respawned *model.Game        `json:"respawned,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides game id generation.
func WithIDGenerator(next func() string) Option {
	return func(s *Service) {
		if next != nil {
			s.newID = next
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Service implements the game lifecycle.
type Service struct {
	store     repository.Store
	roster    RosterResolver
	scheduler Scheduler
	publisher notify.Publisher

	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
	logger logger.Logger
}

// NewService creates a lifecycle service.
func NewService(store repository.Store, r RosterResolver, sched Scheduler, pub notify.Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		roster:    r,
		scheduler: sched,
		publisher: pub,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("lifecycle")
	}
	if s.tracer == nil {
		s.tracer = tracing.Tracer("lifecycle")
	}
	return s
}

func (s *Service) begin(ctx context.Context, op, gameID string) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "lifecycle."+op)
	if gameID != "" {
		span.SetAttributes(attribute.String("game.id", gameID))
	}
	start := time.Now()
	return ctx, func(errp *error) {
		status := "ok"
		if err := *errp; err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordLifecycleLatency(op, status, float64(time.Since(start).Microseconds())/1000)
		span.End()
	}
}

// Get returns a stored game.
func (s *Service) Get(ctx context.Context, id string) (model.Game, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of a client's games.
func (s *Service) List(ctx context.Context, q repository.Query) (repository.Page, error) {
	return s.store.Query(ctx, q)
}

// Create resolves the roster of req.Teams, merges the explicit
// participants, and stores a new game.
func (s *Service) Create(ctx context.Context, req CreateRequest) (g model.Game, err error) {
	ctx, end := s.begin(ctx, "create", "")
	defer end(&err)

	now := s.now()
	g = model.Game{
		GameID:    s.newID(),
		ClientID:  req.ClientID,
		Title:     req.Title,
		CreatedBy: req.CreatedBy,
		Teams:     slices.Clone(req.Teams),
		KPIID:     req.KPIID,
		KPIName:   req.KPIName,
		Flip:      req.Flip,
		Schedule:  req.Schedule,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		IsDuel:    req.IsDuel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if g.Schedule == "" {
		g.Schedule = model.RecurrenceOnce
	}
	if g.StartDate.IsZero() {
		g.StartDate = now
	}
	g.Profiles = model.MergeParticipants(req.Participants, s.resolve(ctx, g, roster.ModeCreate))
	if err := g.Validate(); err != nil {
		return model.Game{}, err
	}

	if err := s.store.Put(ctx, g); err != nil {
		return model.Game{}, fmt.Errorf("store new game: %w", err)
	}
	metrics.RecordGameCreated(kind(g), "request")
	s.logger.Info(ctx, "game created",
		logger.String("gameId", g.GameID),
		logger.String("clientId", g.ClientID),
		logger.Int("participants", len(g.Profiles)),
	)
	return g, nil
}

// resolve returns the team roster of g. A partial roster is used as is.
func (s *Service) resolve(ctx context.Context, g model.Game, mode roster.Mode) []model.Participant {
	if len(g.Teams) == 0 || s.roster == nil {
		return nil
	}
	r := s.roster.Resolve(ctx, g.Teams, mode)
	if r.Partial {
		s.logger.Warn(ctx, "roster resolved partially",
			logger.String("gameId", g.GameID),
			logger.String("mode", mode.String()),
			logger.Int("participants", len(r.Participants)),
			logger.Error(r.Err),
		)
	}
	return r.Participants
}

// Update replaces g. A declined duel is archived and returned without a
// successor. Any other update archives the stored record and stores g as a
// new active game under a fresh id.
func (s *Service) Update(ctx context.Context, g model.Game) (out model.Game, err error) {
	ctx, end := s.begin(ctx, "update", g.GameID)
	defer end(&err)

	cur, err := s.store.Get(ctx, g.GameID)
	if err != nil {
		return model.Game{}, err
	}
	if cur.IsArchived {
		return model.Game{}, fmt.Errorf("%w: %s", ErrArchived, cur.GameID)
	}

	if cur.IsDuel && g.IsDeclined {
		archived, err := s.store.Update(ctx, cur.GameID, repository.Patch{
			IsDeclined: repository.Bool(true),
			IsArchived: repository.Bool(true),
		})
		if err != nil {
			return model.Game{}, fmt.Errorf("archive declined duel: %w", err)
		}
		metrics.RecordDuelTransition("declined")
		return archived, nil
	}

	if _, err := s.store.Update(ctx, cur.GameID, repository.Patch{IsArchived: repository.Bool(true)}); err != nil {
		return model.Game{}, fmt.Errorf("archive previous game: %w", err)
	}

	now := s.now()
	next := g.Clone()
	next.GameID = s.newID()
	next.ClientID = cur.ClientID
	next.Profiles = model.MergeParticipants(g.Profiles)
	next.IsComplete = false
	next.IsArchived = false
	next.WinnerProfile = nil
	next.CreatedAt = now
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return model.Game{}, err
	}
	if err := s.store.Put(ctx, next); err != nil {
		return model.Game{}, fmt.Errorf("store updated game: %w", err)
	}
	metrics.RecordGameCreated(kind(next), "update")
	s.logger.Info(ctx, "game replaced",
		logger.String("previousId", cur.GameID),
		logger.String("gameId", next.GameID),
	)
	return next, nil
}

// AcceptDuel marks a duel accepted in place.
func (s *Service) AcceptDuel(ctx context.Context, id string) (ok bool, err error) {
	ctx, end := s.begin(ctx, "accept_duel", id)
	defer end(&err)

	g, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	switch {
	case !g.IsDuel:
		return false, fmt.Errorf("%w: %s", ErrNotDuel, id)
	case g.IsArchived:
		return false, fmt.Errorf("%w: %s", ErrArchived, id)
	}

	g, err = s.store.Update(ctx, id, repository.Patch{IsAccepted: repository.Bool(true)})
	if err != nil {
		return false, fmt.Errorf("accept duel: %w", err)
	}
	metrics.RecordDuelTransition("accepted")

	to := []string{g.CreatedBy}
	if g.CreatedBy == "" {
		to = entityIDs(g.Profiles, "")
	}
	s.publisher.Publish(ctx, notify.DuelAccepted, notify.Event{
		GameID:     g.GameID,
		ClientID:   g.ClientID,
		Recipients: to,
	})
	return true, nil
}

// DeclineDuel marks a duel declined, which archives it.
func (s *Service) DeclineDuel(ctx context.Context, id string) (model.Game, error) {
	g, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Game{}, err
	}
	if !g.IsDuel {
		return model.Game{}, fmt.Errorf("%w: %s", ErrNotDuel, id)
	}
	g.IsDeclined = true
	return s.Update(ctx, g)
}

// CompleteAndResolve finishes a game. An archived game is only marked
// complete. Otherwise the winner is resolved and notified, the game is
// completed and archived, and a recurring challenge whose schedule is still
// running is respawned with reset scores.
func (s *Service) CompleteAndResolve(ctx context.Context, id string) (c Completion, err error) {
	ctx, end := s.begin(ctx, "complete", id)
	defer end(&err)

	g, err := s.store.Get(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	if g.IsArchived {
		done, err := s.store.Update(ctx, id, repository.Patch{IsComplete: repository.Bool(true)})
		if err != nil {
			return Completion{}, fmt.Errorf("finalize archived game: %w", err)
		}
		return Completion{Game: done}, nil
	}

	patch := repository.Patch{
		IsComplete: repository.Bool(true),
		IsArchived: repository.Bool(true),
	}
	winner, found := scoring.ResolveWinner(g.Profiles, g.Flip)
	if found {
		patch.WinnerProfile = &winner
		c.Winner = &winner
		s.announce(ctx, g, winner)
		metrics.RecordGameCompleted("winner")
	} else {
		metrics.RecordGameCompleted("draw")
	}

	c.Game, err = s.store.Update(ctx, id, patch)
	if err != nil {
		return Completion{}, fmt.Errorf("complete game: %w", err)
	}

	if !g.Recurring() {
		return c, nil
	}
	if _, active := s.scheduler.Next(g); !active {
		s.logger.Info(ctx, "recurrence ended", logger.String("gameId", id))
		return c, nil
	}
	next, err := s.respawn(ctx, g)
	if err != nil {
		return c, err
	}
	c.Respawned = &next
	return c, nil
}

func (s *Service) announce(ctx context.Context, g model.Game, winner model.Participant) {
	exclude := ""
	if g.IsDuel {
		exclude = g.CreatedBy
	}
	e := notify.Event{
		GameID:     g.GameID,
		ClientID:   g.ClientID,
		Recipients: entityIDs(g.Profiles, exclude),
		EntityID:   winner.EntityID,
		Score:      winner.Score,
		KPIName:    g.KPIName,
	}
	for _, t := range []string{notify.PointsAwarded, notify.MilestoneReached, notify.WinnerAnnounced} {
		s.publisher.Publish(ctx, t, e)
	}
}

// respawn stores the next occurrence of a recurring challenge.
func (s *Service) respawn(ctx context.Context, prev model.Game) (model.Game, error) {
	now := s.now()
	next := prev.Clone()
	next.GameID = s.newID()
	next.CreatedAt = now
	next.UpdatedAt = now
	next.StartDate = now
	next.IsComplete = false
	next.IsArchived = false
	next.IsAccepted = false
	next.IsDeclined = false
	next.WinnerProfile = nil
	next.Profiles = model.MergeParticipants(model.ResetScores(prev.Profiles), s.resolve(ctx, prev, roster.ModeSchedule))

	if err := s.store.Put(ctx, next); err != nil {
		return model.Game{}, fmt.Errorf("store respawned game: %w", err)
	}
	metrics.RecordGameRespawned()
	metrics.RecordGameCreated(kind(next), "respawn")
	s.logger.Info(ctx, "game respawned",
		logger.String("previousId", prev.GameID),
		logger.String("gameId", next.GameID),
	)
	return next, nil
}

// DeleteGame archives the game. Its graph representation is removed by the
// change handler reacting to the archive transition.
func (s *Service) DeleteGame(ctx context.Context, id string) (err error) {
	ctx, end := s.begin(ctx, "delete", id)
	defer end(&err)

	g, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.IsArchived {
		return nil
	}
	if _, err := s.store.Update(ctx, id, repository.Patch{IsArchived: repository.Bool(true)}); err != nil {
		return fmt.Errorf("archive game: %w", err)
	}
	return nil
}

func kind(g model.Game) string {
	if g.IsDuel {
		return "duel"
	}
	return "challenge"
}

func entityIDs(ps []model.Participant, exclude string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.EntityID != exclude {
			out = append(out, p.EntityID)
		}
	}
	return out
}
