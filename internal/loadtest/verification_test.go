package loadtest

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMatches(t *testing.T) {
	Convey("Given completions", t, func() {
		done := model.Game{IsComplete: true, IsArchived: true}
		w := model.Participant{EntityID: "u1"}

		So(matches(lifecycle.Completion{Game: done, Winner: &w}, "u1"), ShouldBeTrue)
		So(matches(lifecycle.Completion{Game: done, Winner: &w}, "u2"), ShouldBeFalse)
		So(matches(lifecycle.Completion{Game: done}, ""), ShouldBeTrue)
		So(matches(lifecycle.Completion{Game: done, Winner: &w}, ""), ShouldBeFalse)
		So(matches(lifecycle.Completion{Game: model.Game{IsComplete: true}}, ""), ShouldBeFalse)
	})
}

func TestVerify(t *testing.T) {
	Convey("Given run totals", t, func() {
		So(errors.Is(verify(&Stats{}), ErrVerification), ShouldBeTrue)
		So(errors.Is(verify(&Stats{Created: 3, Completed: 3, Mismatches: 1}), ErrVerification), ShouldBeTrue)
		So(errors.Is(verify(&Stats{Created: 3, Completed: 2}), ErrVerification), ShouldBeTrue)
		So(verify(&Stats{Created: 3, Completed: 3}), ShouldBeNil)
	})
}

func TestGenerateGames(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		cfg := (&Config{Games: 20, Participants: 4, Seed: 1}).withDefaults()
		games := generateGames(cfg, time.Now())

		Convey("Then every tenth game is a draw and the rest have a winner", func() {
			So(len(games), ShouldEqual, 20)
			for i, g := range games {
				So(len(g.request.Participants), ShouldEqual, 4)
				if i%10 == 9 {
					So(g.winner, ShouldBeEmpty)
				} else {
					So(g.winner, ShouldNotBeEmpty)
				}
			}
		})

		Convey("Then the same seed yields the same plan", func() {
			again := generateGames(cfg, time.Now())
			So(again[3].winner, ShouldEqual, games[3].winner)
		})
	})
}
