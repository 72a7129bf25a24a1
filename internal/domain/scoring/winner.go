// Package scoring selects the winner of a finished game.
package scoring

import "github.com/okian/arena/internal/domain/model"

// ResolveWinner picks the winning participant.
//
// With flip unset the highest score wins and ties keep the earlier entry.
// With flip set the lowest non-zero score wins; a zero-score running best is
// replaced by whatever comes next. A winner with score zero means no winner,
// so the second return value is false for empty rosters and no-activity games.
func ResolveWinner(profiles []model.Participant, flip bool) (model.Participant, bool) {
	if len(profiles) == 0 {
		return model.Participant{}, false
	}

	best := profiles[0]
	for _, p := range profiles[1:] {
		if replaces(best, p, flip) {
			best = p
		}
	}

	if best.Score == 0 {
		return model.Participant{}, false
	}
	return best, true
}

func replaces(best, candidate model.Participant, flip bool) bool {
	if !flip {
		return candidate.Score > best.Score
	}
	if best.Score == 0 {
		return true
	}
	return candidate.Score != 0 && candidate.Score < best.Score
}
