package clock

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// PatternKind discriminates the recurring pattern variants.
type PatternKind string

const (
	PatternDaily    PatternKind = "daily"
	PatternWeekly   PatternKind = "weekly"
	PatternMonthly  PatternKind = "monthly"
	PatternInterval PatternKind = "interval"
	PatternCron     PatternKind = "cron"
)

// Pattern describes when a recurring rule fires. Exactly the fields of the
// active Kind are meaningful; use the constructors below rather than building
// the struct by hand.
type Pattern struct {
	Kind PatternKind `json:"kind" yaml:"kind"`

	// Hour/Minute are the time-of-day for daily, weekly and monthly patterns.
	Hour   int `json:"hour,omitempty" yaml:"hour,omitempty"`
	Minute int `json:"minute,omitempty" yaml:"minute,omitempty"`

	// Weekdays are the firing days for weekly patterns (Mon–Sun).
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`

	// MonthDays are the firing days (1–31) for monthly patterns.
	// Days absent from a month are silently skipped.
	MonthDays []int `json:"month_days,omitempty" yaml:"month_days,omitempty"`

	// EveryHours/EveryMinutes define the spacing of interval patterns.
	EveryHours   int `json:"every_hours,omitempty" yaml:"every_hours,omitempty"`
	EveryMinutes int `json:"every_minutes,omitempty" yaml:"every_minutes,omitempty"`

	// Expr is the five-field cron expression for cron patterns.
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// Daily fires every day at hour:minute.
func Daily(hour, minute int) Pattern {
	return Pattern{Kind: PatternDaily, Hour: hour, Minute: minute}
}

// Weekly fires on the given weekdays at hour:minute.
func Weekly(days []time.Weekday, hour, minute int) Pattern {
	return Pattern{Kind: PatternWeekly, Weekdays: days, Hour: hour, Minute: minute}
}

// Monthly fires on the given days of month (1–31) at hour:minute.
func Monthly(days []int, hour, minute int) Pattern {
	return Pattern{Kind: PatternMonthly, MonthDays: days, Hour: hour, Minute: minute}
}

// Every fires at a fixed interval of hours and minutes.
func Every(hours, minutes int) Pattern {
	return Pattern{Kind: PatternInterval, EveryHours: hours, EveryMinutes: minutes}
}

// Cron fires per a standard five-field cron expression
// (minute hour day-of-month month day-of-week).
func Cron(expr string) Pattern {
	return Pattern{Kind: PatternCron, Expr: expr}
}

// cronParser accepts the standard five fields with lists, ranges, wildcards
// and steps. Descriptors (@daily etc.) are deliberately not enabled.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the pattern fields for the active kind.
func (p Pattern) Validate() error {
	checkTime := func() error {
		if p.Hour < 0 || p.Hour > 23 {
			return fmt.Errorf("hour %d out of range 0-23", p.Hour)
		}
		if p.Minute < 0 || p.Minute > 59 {
			return fmt.Errorf("minute %d out of range 0-59", p.Minute)
		}
		return nil
	}

	switch p.Kind {
	case PatternDaily:
		return checkTime()
	case PatternWeekly:
		if len(p.Weekdays) == 0 {
			return fmt.Errorf("weekly pattern needs at least one weekday")
		}
		for _, d := range p.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", d)
			}
		}
		return checkTime()
	case PatternMonthly:
		if len(p.MonthDays) == 0 {
			return fmt.Errorf("monthly pattern needs at least one day of month")
		}
		for _, d := range p.MonthDays {
			if d < 1 || d > 31 {
				return fmt.Errorf("day of month %d out of range 1-31", d)
			}
		}
		return checkTime()
	case PatternInterval:
		if p.EveryHours < 0 || p.EveryMinutes < 0 {
			return fmt.Errorf("interval components must be non-negative")
		}
		if p.EveryHours == 0 && p.EveryMinutes == 0 {
			return fmt.Errorf("interval pattern must be non-zero")
		}
		return nil
	case PatternCron:
		if _, err := cronParser.Parse(p.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", p.Expr, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown pattern kind %q", p.Kind)
	}
}

// Interval returns the spacing of an interval pattern.
func (p Pattern) Interval() time.Duration {
	return time.Duration(p.EveryHours)*time.Hour + time.Duration(p.EveryMinutes)*time.Minute
}

// NextFire returns the least instant strictly greater than from at which the
// pattern matches, in UTC. A zero time means the pattern has no future
// occurrence (only possible for cron expressions that never match again
// within the parser's horizon).
func NextFire(p Pattern, from time.Time) (time.Time, error) {
	if err := p.Validate(); err != nil {
		return time.Time{}, err
	}
	from = from.UTC()

	switch p.Kind {
	case PatternDaily:
		next := atTimeOfDay(from, p.Hour, p.Minute)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case PatternWeekly:
		want := make(map[time.Weekday]bool, len(p.Weekdays))
		for _, d := range p.Weekdays {
			want[d] = true
		}
		for i := 0; i <= 7; i++ {
			day := from.AddDate(0, 0, i)
			if !want[day.Weekday()] {
				continue
			}
			next := atTimeOfDay(day, p.Hour, p.Minute)
			if next.After(from) {
				return next, nil
			}
		}
		return time.Time{}, fmt.Errorf("no weekly occurrence found")

	case PatternMonthly:
		days := append([]int(nil), p.MonthDays...)
		sort.Ints(days)
		want := make(map[int]bool, len(days))
		for _, d := range days {
			want[d] = true
		}
		// Day-by-day scan; 62 days always spans two month boundaries, which
		// is enough for any 1-31 day set (out-of-month days are skipped).
		for i := 0; i <= 62; i++ {
			day := from.AddDate(0, 0, i)
			if !want[day.Day()] {
				continue
			}
			next := atTimeOfDay(day, p.Hour, p.Minute)
			if next.After(from) {
				return next, nil
			}
		}
		return time.Time{}, fmt.Errorf("no monthly occurrence found")

	case PatternInterval:
		return from.Add(p.Interval()), nil

	case PatternCron:
		sched, err := cronParser.Parse(p.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", p.Expr, err)
		}
		next := sched.Next(from)
		if next.IsZero() {
			return time.Time{}, nil
		}
		return next.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unknown pattern kind %q", p.Kind)
}

// atTimeOfDay returns the instant on t's UTC date at hour:minute.
func atTimeOfDay(t time.Time, hour, minute int) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
}
