// Package repository is the primary record store for games and the
// identities used for roster lookups.
package repository

import (
	"context"
	"strconv"

	"github.com/okian/arena/internal/domain/model"
)

// Status filters a client's game listing.
type Status string

// Listing statuses.
const (
	StatusAll      Status = "all"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusDraw     Status = "draw"
)

// ParseStatus maps a query-string value to a Status. Empty means all.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusActive, StatusComplete, StatusDraw:
		return Status(s), nil
	}
	return "", ErrInvalidQuery
}

// Matches reports whether g passes the status predicate.
func (s Status) Matches(g model.Game) bool {
	switch s {
	case StatusActive:
		return !g.IsComplete
	case StatusComplete:
		return g.IsComplete && g.WinnerProfile != nil
	case StatusDraw:
		return g.IsComplete && g.WinnerProfile == nil
	default:
		return true
	}
}

// Query lists one client's games, newest first.
type Query struct {
	ClientID  string
	Duel      *bool
	Status    Status
	PageToken string
	Limit     int
}

// Page is one slice of a listing.
type Page struct {
	Items         []model.Game `json:"items"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

// Patch is a partial-attribute update. Nil fields are left unchanged; the
// game id can never be patched.
type Patch struct {
	IsAccepted    *bool
	IsDeclined    *bool
	IsComplete    *bool
	IsArchived    *bool
	WinnerProfile *model.Participant
}

// Apply writes the set fields into g.
func (p Patch) Apply(g *model.Game) {
	if p.IsAccepted != nil {
		g.IsAccepted = *p.IsAccepted
	}
	if p.IsDeclined != nil {
		g.IsDeclined = *p.IsDeclined
	}
	if p.IsComplete != nil {
		g.IsComplete = *p.IsComplete
	}
	if p.IsArchived != nil {
		g.IsArchived = *p.IsArchived
	}
	if p.WinnerProfile != nil {
		w := *p.WinnerProfile
		g.WinnerProfile = &w
	}
}

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// Store is the storage collaborator.
type Store interface {
	// Get returns ErrNotFound when the game is absent.
	Get(ctx context.Context, id string) (model.Game, error)
	// Put inserts or fully replaces a game.
	Put(ctx context.Context, g model.Game) error
	// Update applies a partial update and returns the stored result.
	Update(ctx context.Context, id string, patch Patch) (model.Game, error)
	// Delete hard-deletes a game. Deleting an absent game is a no-op.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) (Page, error)
	// BatchGet returns the games that exist, in no particular order.
	BatchGet(ctx context.Context, ids []string) ([]model.Game, error)
	// Unarchived pages through the games of every client that are not
	// archived yet, ordered by game id.
	Unarchived(ctx context.Context, pageToken string, limit int) (Page, error)
}

// ChangeSink receives ordered change notifications after successful writes.
type ChangeSink interface {
	Publish(ctx context.Context, c model.Change) error
}

const defaultQueryLimit = 25

func pageBounds(q Query) (offset, limit int, err error) {
	limit = q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if q.PageToken == "" {
		return 0, limit, nil
	}
	offset, err = strconv.Atoi(q.PageToken)
	if err != nil || offset < 0 {
		return 0, 0, ErrInvalidQuery
	}
	return offset, limit, nil
}

func nextToken(offset, limit, got int) string {
	if got <= limit {
		return ""
	}
	return strconv.Itoa(offset + limit)
}
