// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Recurrence is the repeat policy of a game.
type Recurrence string

// Supported recurrence policies.
const (
	RecurrenceOnce    Recurrence = "ONCE"
	RecurrenceDaily   Recurrence = "DAILY"
	RecurrenceWeekly  Recurrence = "WEEKLY"
	RecurrenceMonthly Recurrence = "MONTHLY"
)

// Participant is one roster entry of a game.
type Participant struct {
	EntityID     string  `json:"entityId"`
	FirstName    string  `json:"firstName"`
	LastName     string  `json:"lastName"`
	DepartmentID string  `json:"departmentId"`
	Score        float64 `json:"score"`
}

// Identity is what the entity-lookup collaborator knows about a user.
type Identity struct {
	EntityID  string `json:"entityId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	GroupID   string `json:"groupId"`
}

// Participant converts an identity into a zero-score roster entry.
func (i Identity) Participant() Participant {
	return Participant{
		EntityID:     i.EntityID,
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		DepartmentID: i.GroupID,
	}
}

// Game is a challenge or, when IsDuel is set, a duel.
type Game struct {
	GameID    string `json:"gameId"`
	ClientID  string `json:"clientId"`
	Title     string `json:"title,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`

	Teams    []string      `json:"teams,omitempty"`
	Profiles []Participant `json:"profiles"`

	KPIID   string `json:"kpi_id"`
	KPIName string `json:"kpi_name"`
	// Flip inverts the KPI: the lowest non-zero score wins.
	Flip bool `json:"flip"`

	Schedule  Recurrence `json:"schedule"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`

	IsDuel     bool `json:"isDuel"`
	IsAccepted bool `json:"isAccepted"`
	IsDeclined bool `json:"isDeclined"`
	IsComplete bool `json:"isComplete"`
	IsArchived bool `json:"isArchived"`

	WinnerProfile *Participant `json:"winnerProfile,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of g.
func (g Game) Clone() Game {
	out := g
	if g.Teams != nil {
		out.Teams = append([]string(nil), g.Teams...)
	}
	if g.Profiles != nil {
		out.Profiles = append([]Participant(nil), g.Profiles...)
	}
	if g.WinnerProfile != nil {
		w := *g.WinnerProfile
		out.WinnerProfile = &w
	}
	return out
}

// Recurring reports whether the game can respawn after completion.
// Duels never respawn.
func (g Game) Recurring() bool {
	return !g.IsDuel && g.Schedule != RecurrenceOnce && g.Schedule != ""
}

// Validate checks the fields every stored game must carry.
func (g Game) Validate() error {
	switch {
	case strings.TrimSpace(g.GameID) == "":
		return fmt.Errorf("%w: missing gameId", ErrInvalidGame)
	case strings.TrimSpace(g.ClientID) == "":
		return fmt.Errorf("%w: missing clientId", ErrInvalidGame)
	case !g.EndDate.IsZero() && !g.StartDate.IsZero() && g.EndDate.Before(g.StartDate):
		return fmt.Errorf("%w: end_date before start_date", ErrInvalidGame)
	}
	return nil
}

// MergeParticipants concatenates the lists and keeps the first entry per EntityID.
// Entries without an EntityID are dropped.
func MergeParticipants(lists ...[]Participant) []Participant {
	seen := make(map[string]struct{})
	out := make([]Participant, 0)
	for _, list := range lists {
		for _, p := range list {
			if p.EntityID == "" {
				continue
			}
			if _, ok := seen[p.EntityID]; ok {
				continue
			}
			seen[p.EntityID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ResetScores returns a copy of ps with every score set to zero.
func ResetScores(ps []Participant) []Participant {
	out := make([]Participant, len(ps))
	for i, p := range ps {
		p.Score = 0
		out[i] = p
	}
	return out
}
