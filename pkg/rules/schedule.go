package rules

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts the classic 5-field form:
// minute hour day-of-month month day-of-week.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is one parsed cron expression.
type Schedule struct {
	Expr     string
	schedule cron.Schedule
}

func ParseSchedule(expr string) (*Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return &Schedule{Expr: expr, schedule: schedule}, nil
}

// ParseSchedules parses a rule's expression list, failing on the first bad
// entry.
func ParseSchedules(exprs []string) ([]*Schedule, error) {
	schedules := make([]*Schedule, 0, len(exprs))

	for _, expr := range exprs {
		schedule, err := ParseSchedule(expr)
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	return schedules, nil
}

// Next returns the first fire time strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Matches reports whether the schedule fires at the minute containing t.
// Only the current tick is ever evaluated; missed ticks are not backfilled.
func (s *Schedule) Matches(t time.Time) bool {
	tick := t.Truncate(time.Minute)

	return s.schedule.Next(tick.Add(-time.Second)).Equal(tick)
}
