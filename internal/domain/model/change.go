package model

import (
	"fmt"
	"time"
)

// ChangeKind is the type of a primary-store mutation.
type ChangeKind string

// Change kinds, matching the change-stream vocabulary.
const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeModify ChangeKind = "MODIFY"
	ChangeRemove ChangeKind = "REMOVE"
)

// Change is one ordered notification about a game record.
// INSERT carries New, REMOVE carries Old, MODIFY carries both.
type Change struct {
	ID   string     `json:"id"`
	Kind ChangeKind `json:"kind"`
	Old  *Game      `json:"old,omitempty"`
	New  *Game      `json:"new,omitempty"`
	At   time.Time  `json:"at"`
}

// Key returns the id of the game the change is about.
func (c Change) Key() string {
	if c.New != nil {
		return c.New.GameID
	}
	if c.Old != nil {
		return c.Old.GameID
	}
	return ""
}

// Validate checks the snapshots match the kind.
func (c Change) Validate() error {
	switch c.Kind {
	case ChangeInsert:
		if c.New == nil {
			return fmt.Errorf("%w: INSERT without new image", ErrInvalidChange)
		}
	case ChangeRemove:
		if c.Old == nil {
			return fmt.Errorf("%w: REMOVE without old image", ErrInvalidChange)
		}
	case ChangeModify:
		if c.Old == nil || c.New == nil {
			return fmt.Errorf("%w: MODIFY needs both images", ErrInvalidChange)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, c.Kind)
	}
	return nil
}

// EdgeAction tags a queued edge batch.
type EdgeAction string

// Edge batch actions.
const (
	EdgeActionInsert EdgeAction = "INSERT"
)

// EdgeBatch is the delay-queue message consumed by the edge writer.
type EdgeBatch struct {
	ID       string     `json:"id"`
	GameID   string     `json:"gameId"`
	Action   EdgeAction `json:"action"`
	Edges    []Edge     `json:"edges"`
	Receives int        `json:"-"`
}
