package clock

import (
	"fmt"
	"time"
)

// Formatter renders instants in the platform's display timezone. Internal
// state stays UTC; only rendering goes through the formatter.
type Formatter struct {
	loc *time.Location
}

// NewFormatter loads the given IANA timezone (e.g. "America/Sao_Paulo").
// An empty name means UTC.
func NewFormatter(timezone string) (*Formatter, error) {
	if timezone == "" {
		return &Formatter{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return &Formatter{loc: loc}, nil
}

// In converts t to the display timezone.
func (f *Formatter) In(t time.Time) time.Time {
	return t.In(f.loc)
}

// Date renders the ISO date (YYYY-MM-DD).
func (f *Formatter) Date(t time.Time) string {
	return t.In(f.loc).Format("2006-01-02")
}

// TimeOfDay renders the 24h clock time (HH:MM).
func (f *Formatter) TimeOfDay(t time.Time) string {
	return t.In(f.loc).Format("15:04")
}

// DateTime renders "YYYY-MM-DD HH:MM".
func (f *Formatter) DateTime(t time.Time) string {
	return t.In(f.loc).Format("2006-01-02 15:04")
}
