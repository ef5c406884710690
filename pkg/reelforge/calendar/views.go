package calendar

import (
	"time"
)

// notionalCapacityMinutes is the per-day planning capacity the utilization
// percentage is computed against (an 8-hour notional production day).
const notionalCapacityMinutes = 480

// Entry is one day of a calendar view: the day's slots in time order,
// counts per status, and the capacity utilization percentage.
type Entry struct {
	Date           time.Time          `json:"date"`
	Slots          []*Slot            `json:"slots"`
	Counts         map[SlotStatus]int `json:"counts"`
	UtilizationPct float64            `json:"utilization_pct"`
}

// DayView returns the entry for a single date.
func (c *Calendar) DayView(date time.Time) Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entryLocked(midnight(date))
}

// WeekView returns seven entries starting at the given date.
func (c *Calendar) WeekView(start time.Time) []Entry {
	return c.rangeView(midnight(start), 7)
}

// MonthView returns one entry per day of the given month.
func (c *Calendar) MonthView(year int, month time.Month) []Entry {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	return c.rangeView(first, days)
}

// YearView returns one entry per day of the given year.
func (c *Calendar) YearView(year int) []Entry {
	first := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	days := 365
	if first.AddDate(1, 0, 0).Sub(first).Hours() > 365*24 {
		days = 366
	}
	return c.rangeView(first, days)
}

func (c *Calendar) rangeView(start time.Time, days int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, c.entryLocked(start.AddDate(0, 0, i)))
	}
	return out
}

func (c *Calendar) entryLocked(date time.Time) Entry {
	slots := sortedCopy(c.byDate[dateKey(date)])

	counts := make(map[SlotStatus]int)
	var totalMinutes float64
	for _, s := range slots {
		counts[s.Status]++
		totalMinutes += s.Duration.Minutes()
	}

	return Entry{
		Date:           date,
		Slots:          slots,
		Counts:         counts,
		UtilizationPct: totalMinutes / notionalCapacityMinutes * 100,
	}
}
