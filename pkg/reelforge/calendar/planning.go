package calendar

import (
	"time"
)

// defaultSuggestionHours is tried when neither the caller nor the config
// names preferred hours.
var defaultSuggestionHours = []int{9, 12, 15, 18}

// SuggestSlots returns up to count conflict-free instants, walking days from
// start (today when zero) through horizonDays and trying preferred hours in
// order. Accepted candidates count against the daily cap and minimum gap of
// later candidates. Topic conflicts are not evaluated here; suggestion has
// no topic to compare.
func (c *Calendar) SuggestSlots(count int, start time.Time, horizonDays int, preferredHours []int) []time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if count <= 0 {
		return nil
	}
	if horizonDays <= 0 {
		horizonDays = 30
	}
	if start.IsZero() {
		start = c.clock.Now()
	}
	start = start.UTC()

	hours := preferredHours
	if len(hours) == 0 {
		hours = c.cfg.PreferredHours
	}
	if len(hours) == 0 {
		hours = defaultSuggestionHours
	}

	var out []time.Time
	for dayOff := 0; dayOff < horizonDays && len(out) < count; dayOff++ {
		day := start.AddDate(0, 0, dayOff)
		key := dateKey(day)
		if c.blackout[key] {
			continue
		}

		// Accepted suggestions on this day join the predicate inputs so a
		// later candidate can't land inside the gap of an earlier one or
		// push the day past its cap.
		sameDay := append([]*Slot(nil), c.byDate[key]...)
		if c.cfg.MaxVideosPerDay > 0 && len(sameDay) >= c.cfg.MaxVideosPerDay {
			continue
		}

		for _, hour := range hours {
			if len(out) >= count {
				break
			}
			y, m, d := day.Date()
			candidate := time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
			if !candidate.After(c.clock.Now()) {
				continue
			}
			if len(c.timeConflictsLocked(candidate, sameDay)) > 0 {
				continue
			}
			out = append(out, candidate)
			sameDay = append(sameDay, &Slot{ScheduledAt: candidate})
		}
	}
	return out
}

// Gap is a maximal run of consecutive schedulable dates with no slots.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// ContentGaps enumerates maximal contiguous date ranges within [start, end]
// that contain no slot and are not blackout days.
func (c *Calendar) ContentGaps(start, end time.Time) []Gap {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start = midnight(start)
	end = midnight(end)

	var gaps []Gap
	var open *Gap
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := dateKey(day)
		empty := len(c.byDate[key]) == 0 && !c.blackout[key]
		if empty {
			if open == nil {
				open = &Gap{Start: day}
			}
			open.End = day
			open.Days++
			continue
		}
		if open != nil {
			gaps = append(gaps, *open)
			open = nil
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
