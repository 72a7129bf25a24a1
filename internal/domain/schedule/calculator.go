// Package schedule computes the next occurrence of a game's recurrence.
package schedule

import (
	"fmt"
	"time"

	"github.com/okian/arena/internal/domain/model"
)

// Fixed offsets. MONTHLY is deliberately 30 days, not a calendar month.
const (
	dailyOffset   = 24 * time.Hour
	weeklyOffset  = 7 * dailyOffset
	monthlyOffset = 30 * dailyOffset
)

// Expression is a six-field schedule expression:
// minute hour day-of-month month day-of-week year.
// Day-of-week is always the "?" wildcard.
type Expression struct {
	Minute int
	Hour   int
	Day    int
	Month  int
	Year   int
}

// String renders the expression, e.g. "30 14 5 11 ? 2026".
func (e Expression) String() string {
	return fmt.Sprintf("%d %d %d %d ? %d", e.Minute, e.Hour, e.Day, e.Month, e.Year)
}

// Cron wraps the expression in the cron(...) form schedulers expect.
func (e Expression) Cron() string {
	return "cron(" + e.String() + ")"
}

// ExpressionFor takes the local components of t.
func ExpressionFor(t time.Time) Expression {
	return Expression{
		Minute: t.Minute(),
		Hour:   t.Hour(),
		Day:    t.Day(),
		Month:  int(t.Month()),
		Year:   t.Year(),
	}
}

// Occurrence is the next trigger time of a game.
type Occurrence struct {
	At   time.Time
	Expr Expression
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the zone used for the expression fields.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Calculator maps a game to its next occurrence.
type Calculator struct {
	now func() time.Time
	loc *time.Location
}

// NewCalculator creates a Calculator using the wall clock and time.Local.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next returns the next occurrence of g, or false when the game has ended.
func (c *Calculator) Next(g model.Game) (Occurrence, bool) {
	now := c.now()
	if !g.EndDate.After(now) {
		return Occurrence{}, false
	}

	var target time.Time
	switch g.Schedule {
	case model.RecurrenceOnce:
		target = g.EndDate
	case model.RecurrenceDaily:
		target = now.Add(dailyOffset)
	case model.RecurrenceWeekly:
		target = now.Add(weeklyOffset)
	case model.RecurrenceMonthly:
		target = now.Add(monthlyOffset)
	default:
		target = g.EndDate
	}

	target = target.In(c.loc)
	return Occurrence{At: target, Expr: ExpressionFor(target)}, true
}
