package loadtest

import (
	"fmt"

	"github.com/okian/arena/internal/domain/lifecycle"
)

// matches reports whether a completion announced the expected winner, where
// an empty expectation means a draw.
func matches(c lifecycle.Completion, expected string) bool {
	if !c.Game.IsComplete || !c.Game.IsArchived {
		return false
	}
	if expected == "" {
		return c.Winner == nil
	}
	return c.Winner != nil && c.Winner.EntityID == expected
}

// verify checks the run totals are consistent.
func verify(s *Stats) error {
	switch {
	case s.Created == 0:
		return fmt.Errorf("%w: no game was created", ErrVerification)
	case s.Mismatches > 0:
		return fmt.Errorf("%w: %d of %d games ended unexpectedly", ErrVerification, s.Mismatches, s.Created)
	case s.Completed != s.Created:
		return fmt.Errorf("%w: completed %d of %d games", ErrVerification, s.Completed, s.Created)
	}
	return nil
}
