package schedule_test

import (
	"testing"
	"time"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/internal/domain/schedule"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCalculatorNext(t *testing.T) {
	now := time.Date(2026, time.January, 30, 14, 5, 0, 0, time.UTC)
	calc := schedule.NewCalculator(
		schedule.WithClock(func() time.Time { return now }),
		schedule.WithLocation(time.UTC),
	)
	game := func(r model.Recurrence, end time.Time) model.Game {
		return model.Game{GameID: "g", Schedule: r, EndDate: end}
	}
	future := now.Add(90 * 24 * time.Hour)

	Convey("Given a game whose end date has passed", t, func() {
		for _, r := range []model.Recurrence{model.RecurrenceOnce, model.RecurrenceDaily, model.RecurrenceMonthly} {
			_, ok := calc.Next(game(r, now.Add(-time.Minute)))
			So(ok, ShouldBeFalse)
		}

		Convey("Then an end date equal to now also has no occurrence", func() {
			_, ok := calc.Next(game(model.RecurrenceDaily, now))
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given active games", t, func() {
		Convey("Then ONCE targets the end date", func() {
			occ, ok := calc.Next(game(model.RecurrenceOnce, future))
			So(ok, ShouldBeTrue)
			So(occ.At.Equal(future), ShouldBeTrue)
		})

		Convey("Then DAILY and WEEKLY add exact day offsets", func() {
			occ, _ := calc.Next(game(model.RecurrenceDaily, future))
			So(occ.At.Equal(now.Add(24*time.Hour)), ShouldBeTrue)
			occ, _ = calc.Next(game(model.RecurrenceWeekly, future))
			So(occ.At.Equal(now.Add(7*24*time.Hour)), ShouldBeTrue)
		})

		Convey("Then MONTHLY adds thirty days, not a calendar month", func() {
			occ, _ := calc.Next(game(model.RecurrenceMonthly, future))
			So(occ.At.Equal(now.Add(30*24*time.Hour)), ShouldBeTrue)
			So(occ.At.Month(), ShouldEqual, time.March)
			So(occ.At.Day(), ShouldEqual, 1)
		})

		Convey("Then an unknown schedule falls back to the end date", func() {
			occ, _ := calc.Next(game("HOURLY", future))
			So(occ.At.Equal(future), ShouldBeTrue)
		})
	})

	Convey("Given an occurrence", t, func() {
		occ, _ := calc.Next(game(model.RecurrenceDaily, future))

		Convey("Then the expression uses the target's local fields and a day-of-week wildcard", func() {
			So(occ.Expr.String(), ShouldEqual, "5 14 31 1 ? 2026")
			So(occ.Expr.Cron(), ShouldEqual, "cron(5 14 31 1 ? 2026)")
		})
	})

	Convey("Given a calculator in another zone", t, func() {
		loc := time.FixedZone("UTC+2", 2*60*60)
		local := schedule.NewCalculator(
			schedule.WithClock(func() time.Time { return now }),
			schedule.WithLocation(loc),
		)
		occ, _ := local.Next(game(model.RecurrenceDaily, future))

		So(occ.Expr.Hour, ShouldEqual, 16)
	})
}
