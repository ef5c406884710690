package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/reelforge/pkg/reelforge/scheduler"
)

// newRuleCmd creates the `reelforge rule` command for recurring schedules.
func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage recurring production rules",
		Long: `Manage recurring rules. Each rule fires on its pattern and spawns a
video job from its topic template; {date}-style tokens are expanded per firing.

Examples:
  reelforge rule add-daily "Tip of the day {date}" --hour 10
  reelforge rule add-weekly "Week {week} recap" --days fri --hour 18
  reelforge rule add-cron "Evening short" --expr "0 19 * * *"
  reelforge rule list
  reelforge rule pause <id>`,
	}

	cmd.AddCommand(
		newRuleAddDailyCmd(),
		newRuleAddWeeklyCmd(),
		newRuleAddMonthlyCmd(),
		newRuleAddIntervalCmd(),
		newRuleAddCronCmd(),
		newRuleListCmd(),
		newRulePauseCmd(),
		newRuleResumeCmd(),
		newRuleDeleteCmd(),
	)
	return cmd
}

// ruleSpecFlags registers the flags shared by all add-* subcommands.
func ruleSpecFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "rule name (default: the topic template)")
	cmd.Flags().String("style", "", "script style for spawned jobs")
	cmd.Flags().Duration("duration", 0, "target video duration")
	cmd.Flags().StringSlice("tags", nil, "tag templates for spawned jobs")
	cmd.Flags().String("category", "", "upload category")
	cmd.Flags().String("privacy", "", "upload privacy")
	cmd.Flags().Int("max-instances", 1, "max overlapping jobs for this rule")
	cmd.Flags().String("window-start", "", "earliest fire time")
	cmd.Flags().String("window-end", "", "latest fire time")
}

func ruleSpecFromFlags(cmd *cobra.Command, template string) (scheduler.RuleSpec, error) {
	spec := scheduler.RuleSpec{TopicTemplate: template}
	spec.Name, _ = cmd.Flags().GetString("name")
	if spec.Name == "" {
		spec.Name = template
	}
	spec.Style, _ = cmd.Flags().GetString("style")
	spec.TargetDuration, _ = cmd.Flags().GetDuration("duration")
	spec.TagsTemplate, _ = cmd.Flags().GetStringSlice("tags")
	spec.Category, _ = cmd.Flags().GetString("category")
	spec.Privacy, _ = cmd.Flags().GetString("privacy")
	spec.MaxInstances, _ = cmd.Flags().GetInt("max-instances")

	if s, _ := cmd.Flags().GetString("window-start"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return spec, err
		}
		spec.WindowStart = &t
	}
	if s, _ := cmd.Flags().GetString("window-end"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return spec, err
		}
		spec.WindowEnd = &t
	}
	return spec, nil
}

func reportRuleCreated(sched *scheduler.Scheduler, id string) error {
	rule, err := sched.GetRule(id)
	if err != nil {
		return err
	}
	fmt.Printf("Rule %q created.\nid: %s\n", rule.Name, rule.ID)
	if rule.NextFireAt != nil {
		fmt.Printf("next fire: %s\n", rule.NextFireAt.Format(time.RFC3339))
	}
	return nil
}

func newRuleAddDailyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-daily <topic-template>",
		Short: "Add a rule that fires every day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			spec, err := ruleSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			hour, _ := cmd.Flags().GetInt("hour")
			minute, _ := cmd.Flags().GetInt("minute")
			id, err := sched.CreateDailyRule(spec, hour, minute)
			if err != nil {
				return err
			}
			return reportRuleCreated(sched, id)
		},
	}
	ruleSpecFlags(cmd)
	cmd.Flags().Int("hour", 10, "hour of day (0-23)")
	cmd.Flags().Int("minute", 0, "minute (0-59)")
	return cmd
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q (use mon, tue, ...)", n)
		}
		out = append(out, day)
	}
	return out, nil
}

func newRuleAddWeeklyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-weekly <topic-template>",
		Short: "Add a rule that fires on chosen weekdays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			spec, err := ruleSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			names, _ := cmd.Flags().GetStringSlice("days")
			days, err := parseWeekdays(names)
			if err != nil {
				return err
			}
			hour, _ := cmd.Flags().GetInt("hour")
			minute, _ := cmd.Flags().GetInt("minute")
			id, err := sched.CreateWeeklyRule(spec, days, hour, minute)
			if err != nil {
				return err
			}
			return reportRuleCreated(sched, id)
		},
	}
	ruleSpecFlags(cmd)
	cmd.Flags().StringSlice("days", nil, "weekdays (mon,wed,fri)")
	cmd.Flags().Int("hour", 10, "hour of day (0-23)")
	cmd.Flags().Int("minute", 0, "minute (0-59)")
	return cmd
}

func newRuleAddMonthlyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-monthly <topic-template>",
		Short: "Add a rule that fires on chosen days of month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			spec, err := ruleSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetStringSlice("days")
			var days []int
			for _, r := range raw {
				d, err := strconv.Atoi(strings.TrimSpace(r))
				if err != nil {
					return fmt.Errorf("invalid day of month %q", r)
				}
				days = append(days, d)
			}
			hour, _ := cmd.Flags().GetInt("hour")
			minute, _ := cmd.Flags().GetInt("minute")
			id, err := sched.CreateMonthlyRule(spec, days, hour, minute)
			if err != nil {
				return err
			}
			return reportRuleCreated(sched, id)
		},
	}
	ruleSpecFlags(cmd)
	cmd.Flags().StringSlice("days", nil, "days of month (1,15)")
	cmd.Flags().Int("hour", 10, "hour of day (0-23)")
	cmd.Flags().Int("minute", 0, "minute (0-59)")
	return cmd
}

func newRuleAddIntervalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-interval <topic-template>",
		Short: "Add a rule that fires at a fixed interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			spec, err := ruleSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			every, _ := cmd.Flags().GetDuration("every")
			hours := int(every / time.Hour)
			mins := int(every % time.Hour / time.Minute)
			id, err := sched.CreateIntervalRule(spec, hours, mins)
			if err != nil {
				return err
			}
			return reportRuleCreated(sched, id)
		},
	}
	ruleSpecFlags(cmd)
	cmd.Flags().Duration("every", 6*time.Hour, "spacing between fires (e.g. 6h, 90m)")
	return cmd
}

func newRuleAddCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-cron <topic-template>",
		Short: "Add a rule with a five-field cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, closeStore, err := buildScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			spec, err := ruleSpecFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			expr, _ := cmd.Flags().GetString("expr")
			id, err := sched.CreateCronRule(spec, expr)
			if err != nil {
				return err
			}
			return reportRuleCreated(sched, id)
		},
	}
	ruleSpecFlags(cmd)
	cmd.Flags().String("expr", "", "cron expression (minute hour dom month dow)")
	return cmd
}

func newRuleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring rules",
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

			_, rules, err := store.LoadAll()
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				fmt.Println("No recurring rules.")
				return nil
			}

			sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.Before(rules[j].CreatedAt) })
			for _, rule := range rules {
				status := "enabled"
				if !rule.Enabled {
					status = "paused"
				}
				next := "never"
				if rule.NextFireAt != nil {
					next = rule.NextFireAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-8s  %-8s  next: %s  runs: %d\n",
					rule.ID, rule.Pattern.Kind, status, next, rule.RunCount)
				fmt.Printf("    %s → %q\n", rule.Name, rule.TopicTemplate)
			}
			return nil
		},
	}
}

// setRuleEnabledOffline flips a rule's enabled flag directly in the store.
// The daemon picks the change up at its next restart.
func setRuleEnabledOffline(cmd *cobra.Command, id string, enabled bool) error {
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

	_, rules, err := store.LoadAll()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.ID != id {
			continue
		}
		rule.Enabled = enabled
		if enabled {
			// Cleared so the daemon recomputes the next fire from load time;
			// missed fires are not caught up.
			rule.NextFireAt = nil
		}
		return store.PutRule(rule)
	}
	return fmt.Errorf("rule %q not found", id)
}

func newRulePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setRuleEnabledOffline(cmd, args[0], false); err != nil {
				return err
			}
			fmt.Printf("Rule %s paused.\n", args[0])
			return nil
		},
	}
}

func newRuleResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setRuleEnabledOffline(cmd, args[0], true); err != nil {
				return err
			}
			fmt.Printf("Rule %s resumed.\n", args[0])
			return nil
		},
	}
}

func newRuleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := store.RemoveRule(args[0]); err != nil {
				return err
			}
			fmt.Printf("Rule %s deleted.\n", args[0])
			return nil
		},
	}
}
