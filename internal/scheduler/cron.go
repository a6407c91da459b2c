package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed schedule expression: one of @yearly (@annually),
// @monthly, @weekly, @daily, @hourly or "@every <duration>", where the
// duration accepts a "d" suffix for days.
type Schedule struct {
	expr  string
	every time.Duration
}

// Parse validates expr and returns its schedule.
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "@yearly", "@annually", "@monthly", "@weekly", "@daily", "@hourly":
		return Schedule{expr: expr}, nil
	}
	if d, ok := strings.CutPrefix(expr, "@every "); ok {
		every, err := parseEveryDuration(strings.TrimSpace(d))
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{expr: expr, every: every}, nil
	}
	if expr == "" {
		return Schedule{}, fmt.Errorf("empty schedule expression")
	}
	return Schedule{}, fmt.Errorf("unsupported schedule expression %q: use @every <duration> or @hourly/@daily/@weekly/@monthly/@yearly", expr)
}

// Next returns the first run time after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.every > 0 {
		return t.Add(s.every)
	}
	switch s.expr {
	case "@yearly", "@annually":
		return nextYear(t)
	case "@monthly":
		return nextMonth(t)
	case "@weekly":
		return nextWeek(t)
	case "@daily":
		return nextDay(t)
	default:
		return nextHour(t)
	}
}

func (s Schedule) String() string { return s.expr }

// ParseCronExpression returns the next run time of expr after baseTime.
func ParseCronExpression(expr string, baseTime time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(baseTime), nil
}

// ValidateCronExpression validates a schedule expression
func ValidateCronExpression(expr string) error {
	_, err := Parse(expr)
	return err
}

func parseEveryDuration(duration string) (time.Duration, error) {
	// time.ParseDuration has no day unit
	if days, ok := strings.CutSuffix(duration, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration: %s", duration)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(duration)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration: %s", duration)
	}
	return d, nil
}

func nextYear(t time.Time) time.Time {
	return time.Date(t.Year()+1, 1, 1, 0, 0, 0, 0, t.Location())
}

func nextMonth(t time.Time) time.Time {
	// time.Date normalises month 13
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

func nextWeek(t time.Time) time.Time {
	// Next Sunday at midnight
	daysUntilSunday := (7 - int(t.Weekday())) % 7
	if daysUntilSunday == 0 {
		daysUntilSunday = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day()+daysUntilSunday, 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

func nextHour(t time.Time) time.Time {
	return t.Add(time.Hour).Truncate(time.Hour)
}
