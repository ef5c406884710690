package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/reelforge/pkg/reelforge/calendar"
	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
)

// newCalendarCmd creates the `reelforge calendar` command for planning views.
func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Inspect the content calendar",
		Long: `Planning views over the persisted schedule: suggest free slots,
find content gaps and summarize upcoming days.

Examples:
  reelforge calendar suggest --count 3
  reelforge calendar gaps --days 14
  reelforge calendar week`,
	}

	cmd.AddCommand(
		newCalendarSuggestCmd(),
		newCalendarGapsCmd(),
		newCalendarWeekCmd(),
	)
	return cmd
}

// loadCalendar rebuilds the in-memory calendar from the persisted jobs, so
// the planning views reflect what is actually queued.
func loadCalendar(cmd *cobra.Command) (*calendar.Calendar, *clock.Formatter, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg)
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	defer closeStore()

	jobs, _, err := store.LoadAll()
	if err != nil {
		return nil, nil, err
	}

	cal := calendar.New(cfg.Calendar, nil, logger)
	for _, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		at := job.ScheduledAt
		if job.PublishAt != nil {
			at = *job.PublishAt
		}
		cal.Reserve(calendar.ReserveRequest{
			ScheduledAt: at,
			Topic:       job.Topic,
			Duration:    job.TargetDuration,
			Tags:        job.Tags,
		})
	}

	format, err := clock.NewFormatter(cfg.Timezone)
	if err != nil {
		return nil, nil, err
	}
	return cal, format, nil
}

func newCalendarSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest conflict-free publish times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, format, err := loadCalendar(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")
			horizon, _ := cmd.Flags().GetInt("horizon")

			times := cal.SuggestSlots(count, time.Now(), horizon, nil)
			if len(times) == 0 {
				fmt.Println("No free slots inside the horizon.")
				return nil
			}
			for _, t := range times {
				fmt.Println(format.DateTime(t))
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 3, "number of suggestions")
	cmd.Flags().Int("horizon", 30, "search horizon in days")
	return cmd
}

func newCalendarGapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Find date ranges with nothing scheduled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, format, err := loadCalendar(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")

			start := time.Now()
			gaps := cal.ContentGaps(start, start.AddDate(0, 0, days))
			if len(gaps) == 0 {
				fmt.Println("No gaps: every day has content scheduled.")
				return nil
			}
			for _, g := range gaps {
				fmt.Printf("%s to %s (%d days empty)\n",
					format.Date(g.Start), format.Date(g.End), g.Days)
			}
			return nil
		},
	}
	cmd.Flags().Int("days", 14, "how far ahead to look")
	return cmd
}

func newCalendarWeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "week",
		Short: "Summarize the next seven days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cal, format, err := loadCalendar(cmd)
			if err != nil {
				return err
			}

			for _, entry := range cal.WeekView(time.Now()) {
				marker := " "
				if entry.Counts[calendar.SlotConflict] > 0 {
					marker = "!"
				}
				fmt.Printf("%s %s  videos: %d  utilization: %3.0f%%\n",
					marker, format.Date(entry.Date), len(entry.Slots), entry.UtilizationPct)
			}
			return nil
		},
	}
}
