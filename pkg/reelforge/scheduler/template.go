package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// expandTopicTemplate substitutes the recognized {token}s with fields of the
// given instant. Substitution is textual, case-sensitive and done once per
// firing; unknown tokens are left verbatim.
func expandTopicTemplate(template string, at time.Time) string {
	_, week := at.ISOWeek()
	replacer := strings.NewReplacer(
		"{date}", at.Format("2006-01-02"),
		"{time}", at.Format("15:04"),
		"{datetime}", at.Format("2006-01-02 15:04"),
		"{year}", at.Format("2006"),
		"{month}", at.Month().String(),
		"{month_num}", fmt.Sprintf("%d", int(at.Month())),
		"{day}", fmt.Sprintf("%d", at.Day()),
		"{weekday}", at.Weekday().String(),
		"{week}", fmt.Sprintf("%d", week),
		"{timestamp}", fmt.Sprintf("%d", at.Unix()),
	)
	return replacer.Replace(template)
}
