package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
	"github.com/jholhewres/reelforge/pkg/reelforge/scheduler"
)

// newScheduleCmd creates the `reelforge schedule` command for one-shot videos.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled videos",
		Long: `Manage one-shot video jobs: add, list, inspect, cancel and remove.

Examples:
  reelforge schedule add "5 productivity hacks" --at 2025-06-01T15:00
  reelforge schedule list --state pending
  reelforge schedule cancel <id>`,
	}

	cmd.AddCommand(
		newScheduleAddCmd(),
		newScheduleListCmd(),
		newScheduleShowCmd(),
		newScheduleCancelCmd(),
		newScheduleRemoveCmd(),
	)
	return cmd
}

// parseTime accepts RFC3339 or the shorter local "2006-01-02T15:04".
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (use RFC3339 or 2006-01-02T15:04)", s)
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <topic>",
		Short: "Schedule a one-shot video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			at, _ := cmd.Flags().GetString("at")
			scheduledAt := time.Now()
			if at != "" {
				if scheduledAt, err = parseTime(at); err != nil {
					return err
				}
			}

			req := scheduler.VideoRequest{
				Topic:       args[0],
				ScheduledAt: scheduledAt,
			}
			req.Style, _ = cmd.Flags().GetString("style")
			req.Tags, _ = cmd.Flags().GetStringSlice("tags")
			req.Category, _ = cmd.Flags().GetString("category")
			req.Privacy, _ = cmd.Flags().GetString("privacy")
			req.Duration, _ = cmd.Flags().GetDuration("duration")
			if publishAt, _ := cmd.Flags().GetString("publish-at"); publishAt != "" {
				t, err := parseTime(publishAt)
				if err != nil {
					return err
				}
				req.PublishAt = &t
			}
			if cmd.Flags().Changed("max-retries") {
				n, _ := cmd.Flags().GetInt("max-retries")
				req.MaxRetries = &n
			}
			req.ReserveSlot, _ = cmd.Flags().GetBool("reserve-slot")

			id, err := sched.ScheduleVideo(req)
			if err != nil {
				return err
			}
			fmt.Printf("Scheduled %q for %s\nid: %s\n", req.Topic, scheduledAt.Format(time.RFC3339), id)
			return nil
		},
	}

	cmd.Flags().String("at", "", "when the job becomes due (default: now)")
	cmd.Flags().String("publish-at", "", "publish time passed to the upload stage")
	cmd.Flags().String("style", "", "script style (e.g. energetic, calm)")
	cmd.Flags().Duration("duration", 0, "target video duration (e.g. 45s)")
	cmd.Flags().StringSlice("tags", nil, "tags for the upload")
	cmd.Flags().String("category", "", "upload category")
	cmd.Flags().String("privacy", "", "upload privacy (public, unlisted, private)")
	cmd.Flags().Int("max-retries", 0, "override the configured retry limit")
	cmd.Flags().Bool("reserve-slot", false, "also reserve a calendar slot")
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted video jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			jobs, _, err := store.LoadAll()
			if err != nil {
				return err
			}
			stateFilter, _ := cmd.Flags().GetString("state")

			format, err := clock.NewFormatter(cfg.Timezone)
			if err != nil {
				return err
			}

			sort.Slice(jobs, func(i, j int) bool { return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt) })
			shown := 0
			for _, job := range jobs {
				if stateFilter != "" && string(job.State) != stateFilter {
					continue
				}
				fmt.Printf("%s  %-18s  %-10s  %s\n",
					job.ID, job.State, job.Kind, format.DateTime(job.ScheduledAt))
				fmt.Printf("    topic: %s\n", job.Topic)
				shown++
			}
			if shown == 0 {
				fmt.Println("No scheduled videos.")
			}
			return nil
		},
	}
	cmd.Flags().String("state", "", "filter by state (pending, completed, failed, ...)")
	return cmd
}

func newScheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, _, closeStore, err := findJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			fmt.Printf("id:           %s\n", job.ID)
			fmt.Printf("kind:         %s\n", job.Kind)
			fmt.Printf("state:        %s\n", job.State)
			fmt.Printf("topic:        %s\n", job.Topic)
			fmt.Printf("scheduled_at: %s\n", job.ScheduledAt.Format(time.RFC3339))
			fmt.Printf("retries:      %d/%d\n", job.RetryCount, job.MaxRetries)
			if job.Stage != "" {
				fmt.Printf("stage:        %s\n", job.Stage)
			}
			for stage, pct := range job.StageProgress {
				fmt.Printf("progress:     %s %d%%\n", stage, pct)
			}
			if job.Artifacts.RemoteURL != "" {
				fmt.Printf("url:          %s\n", job.Artifacts.RemoteURL)
			}
			if job.Err != nil {
				fmt.Printf("error:        [%s] %s\n", job.Err.Stage, job.Err.Message)
			}
			return nil
		},
	}
}

func newScheduleCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, store, closeStore, err := findJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			if job.State.Terminal() {
				return fmt.Errorf("job %q is already %s", job.ID, job.State)
			}
			job.State = scheduler.StateCancelled
			now := time.Now().UTC()
			job.CompletedAt = &now
			if err := store.PutJob(job); err != nil {
				return err
			}
			fmt.Printf("Job %s cancelled.\n", job.ID)
			return nil
		},
	}
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a finished job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, store, closeStore, err := findJob(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeStore()

			if !job.State.Terminal() {
				return fmt.Errorf("job %q is %s; cancel it first", job.ID, job.State)
			}
			if err := store.RemoveJob(job.ID); err != nil {
				return err
			}
			fmt.Printf("Job %s removed.\n", job.ID)
			return nil
		},
	}
}

// findJob loads the store and locates one job by id.
func findJob(cmd *cobra.Command, id string) (*scheduler.Job, scheduler.Store, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cmd, cfg)
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	jobs, _, err := store.LoadAll()
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	for _, job := range jobs {
		if job.ID == id {
			return job, store, closeStore, nil
		}
	}
	closeStore()
	return nil, nil, nil, fmt.Errorf("job %q not found", id)
}
