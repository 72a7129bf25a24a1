package loadtest

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/scoring"
)

// planned is one game to create together with the outcome it must reach.
type planned struct {
	request lifecycle.CreateRequest
	winner  string // empty for a draw
}

// generateGames builds cfg.Games challenges with random scores. Every tenth
// game has all-zero scores and must end in a draw, every seventh flips the
// KPI direction.
func generateGames(cfg *Config, now time.Time) []planned {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	out := make([]planned, 0, cfg.Games)
	for i := range cfg.Games {
		draw := i%10 == 9
		req := lifecycle.CreateRequest{
			ClientID:  cfg.ClientID,
			Title:     fmt.Sprintf("load game %d", i),
			CreatedBy: fmt.Sprintf("lt-user-%d-0", i),
			KPIID:     fmt.Sprintf("kpi-%d", i%5),
			KPIName:   "points",
			Flip:      i%7 == 6,
			Schedule:  model.RecurrenceOnce,
			EndDate:   now.Add(24 * time.Hour),
		}
		for p := range cfg.Participants {
			score := 0.0
			if !draw {
				score = float64(1+rng.IntN(10_000)) / 10
			}
			req.Participants = append(req.Participants, model.Participant{
				EntityID: fmt.Sprintf("lt-user-%d-%d", i, p),
				Score:    score,
			})
		}
		g := planned{request: req}
		if w, ok := scoring.ResolveWinner(req.Participants, req.Flip); ok {
			g.winner = w.EntityID
		}
		out = append(out, g)
	}
	return out
}
