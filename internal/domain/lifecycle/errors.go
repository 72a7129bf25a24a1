package lifecycle

import (
	"errors"

	"github.com/okian/arena/internal/adapters/repository"
)

var (
	// ErrNotFound is returned when the requested game does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrArchived is returned for writes to an archived game other than completion.
	ErrArchived = errors.New("game is archived")
	// ErrNotDuel is returned for duel negotiation on a challenge.
	ErrNotDuel = errors.New("game is not a duel")
)
