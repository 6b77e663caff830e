package timer

import (
	"time"

	"github.com/gorhill/cronexpr"
)

// Schedule yields a sequence of trigger times.  A zero time means the
// schedule is exhausted.
type Schedule interface {
	Next(from time.Time) time.Time
}

type periodic time.Duration

func (p periodic) Next(from time.Time) time.Time {
	return from.Add(time.Duration(p))
}

// EveryPeriod is the fixed-period Schedule used by Every.
func EveryPeriod(d time.Duration) Schedule {
	return periodic(d)
}

type cronSchedule struct {
	expr *cronexpr.Expression
}

func (c cronSchedule) Next(from time.Time) time.Time {
	return c.expr.Next(from)
}

// ParseCron parses a cron expression (five through seven fields, per
// cronexpr) into a Schedule.
func ParseCron(expr string) (Schedule, error) {
	parsed, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, err
	}
	return cronSchedule{expr: parsed}, nil
}
