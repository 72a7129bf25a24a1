// Package roster expands teams into a deduplicated participant list by
// walking the organisational hierarchy.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Default resolver limits.
const (
	defaultPageSize    = 100
	defaultSubGroupCap = 10
	defaultLookupBatch = 100
	defaultMaxUsers    = 50_000
)

// Mode selects how sub-groups are expanded.
type Mode int

const (
	// ModeCreate expands at most the first SubGroupCap sub-groups of a team.
	ModeCreate Mode = iota
	// ModeSchedule expands every sub-group.
	ModeSchedule
)

func (m Mode) String() string {
	if m == ModeSchedule {
		return "schedule"
	}
	return "create"
}

// Hierarchy pages through the active members of the organisational graph.
type Hierarchy interface {
	ActiveSubGroups(ctx context.Context, groupID string, offset, limit int) ([]string, error)
	ActiveUsers(ctx context.Context, groupID string, offset, limit int) ([]string, error)
}

// Directory resolves user ids to identities.
type Directory interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Identity, error)
}

// Roster is the outcome of a resolution. When Partial is set, Err holds
// every page or lookup failure that was skipped and Participants holds what
// was accumulated before and after those failures.
type Roster struct {
	Participants []model.Participant
	Partial      bool
	Err          error
}

// Resolver implements roster resolution.
type Resolver struct {
	hierarchy   Hierarchy
	directory   Directory
	pageSize    int
	subGroupCap int
	lookupBatch int
	maxUsers    int
	logger      logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPageSize sets the hierarchy page size.
func WithPageSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithSubGroupCap sets how many sub-groups ModeCreate expands.
func WithSubGroupCap(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.subGroupCap = n
		}
	}
}

// WithLookupBatch sets the identity lookup batch size.
func WithLookupBatch(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.lookupBatch = n
		}
	}
}

// WithMaxUsers bounds how many user ids a single resolution accumulates.
func WithMaxUsers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxUsers = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(h Hierarchy, d Directory, opts ...Option) *Resolver {
	r := &Resolver{
		hierarchy:   h,
		directory:   d,
		pageSize:    defaultPageSize,
		subGroupCap: defaultSubGroupCap,
		lookupBatch: defaultLookupBatch,
		maxUsers:    defaultMaxUsers,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("roster")
	}
	return r
}

// Resolve expands teamIDs into participants. Page and lookup failures are
// logged and skipped; the result is then marked Partial.
func (r *Resolver) Resolve(ctx context.Context, teamIDs []string, mode Mode) Roster {
	acc := &accumulator{limit: r.maxUsers, seen: make(map[string]struct{})}
	var errs []error

	for _, teamID := range teamIDs {
		if acc.full() {
			break
		}
		subGroups, err := r.collect(ctx, "sub_groups", teamID, r.hierarchy.ActiveSubGroups, nil)
		if err != nil {
			errs = append(errs, err)
		}

		if len(subGroups) == 0 {
			if _, err := r.collect(ctx, "users", teamID, r.hierarchy.ActiveUsers, acc); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if mode == ModeCreate && len(subGroups) > r.subGroupCap {
			r.logger.Debug(ctx, "sub-group expansion capped",
				logger.String("teamId", teamID),
				logger.Int("subGroups", len(subGroups)),
				logger.Int("cap", r.subGroupCap),
			)
			subGroups = subGroups[:r.subGroupCap]
		}
		for _, sg := range subGroups {
			if acc.full() {
				break
			}
			if _, err := r.collect(ctx, "users", sg, r.hierarchy.ActiveUsers, acc); err != nil {
				errs = append(errs, err)
			}
		}
	}

	participants, err := r.lookup(ctx, acc.ids)
	if err != nil {
		errs = append(errs, err)
	}

	out := Roster{Participants: model.MergeParticipants(participants)}
	if len(errs) > 0 {
		out.Partial = true
		out.Err = errors.Join(errs...)
		metrics.RecordRosterPartial()
		r.logger.Warn(ctx, "roster resolved partially",
			logger.String("mode", mode.String()),
			logger.Int("participants", len(out.Participants)),
			logger.Error(out.Err),
		)
	}
	metrics.ObserveRosterSize(len(out.Participants))
	return out
}

type pageFunc func(ctx context.Context, groupID string, offset, limit int) ([]string, error)

// collect pages through fetch sequentially until a short page. When acc is
// non-nil ids are accumulated there instead of being returned.
func (r *Resolver) collect(ctx context.Context, source, groupID string, fetch pageFunc, acc *accumulator) ([]string, error) {
	var out []string
	for offset := 0; ; {
		page, err := fetch(ctx, groupID, offset, r.pageSize)
		if err != nil {
			r.logger.Error(ctx, "hierarchy page fetch failed",
				logger.String("kind", source),
				logger.String("groupId", groupID),
				logger.Int("offset", offset),
				logger.Error(err),
			)
			return out, fmt.Errorf("%s page of %s at offset %d: %w", source, groupID, offset, err)
		}
		metrics.RecordRosterPage(source)

		if acc != nil {
			acc.add(page)
			if acc.full() {
				return nil, nil
			}
		} else {
			out = append(out, page...)
		}

		if len(page) < r.pageSize {
			return out, nil
		}
		offset += len(page)
	}
}

func (r *Resolver) lookup(ctx context.Context, ids []string) ([]model.Participant, error) {
	out := make([]model.Participant, 0, len(ids))
	var errs []error
	for start := 0; start < len(ids); start += r.lookupBatch {
		end := min(start+r.lookupBatch, len(ids))
		identities, err := r.directory.GetByIDs(ctx, ids[start:end])
		if err != nil {
			r.logger.Error(ctx, "identity lookup failed",
				logger.Int("batchStart", start),
				logger.Int("batchSize", end-start),
				logger.Error(err),
			)
			errs = append(errs, fmt.Errorf("identity batch at %d: %w", start, err))
			continue
		}
		for _, id := range identities {
			out = append(out, id.Participant())
		}
	}
	return out, errors.Join(errs...)
}

// accumulator collects unique user ids up to limit.
type accumulator struct {
	ids   []string
	seen  map[string]struct{}
	limit int
}

func (a *accumulator) add(ids []string) {
	for _, id := range ids {
		if a.full() {
			return
		}
		if _, ok := a.seen[id]; ok {
			continue
		}
		a.seen[id] = struct{}{}
		a.ids = append(a.ids, id)
	}
}

func (a *accumulator) full() bool {
	return a.limit > 0 && len(a.ids) >= a.limit
}
