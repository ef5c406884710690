package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// starterConfig is written by `reelforge config init`.
const starterConfig = `# ReelForge configuration
timezone: ""            # IANA name, e.g. America/Sao_Paulo; empty = UTC

logging:
  level: info           # debug | info | warn | error
  format: text          # text | json

storage:
  backend: file         # file | sqlite
  path: data            # directory (file) or database file (sqlite)

scheduler:
  poll_interval_seconds: 60
  max_concurrent_jobs: 3
  retry_delay_seconds: 300
  max_retry_delay_minutes: 60
  default_max_retries: 3
  pipeline_timeout_minutes: 30
  misfire_grace_minutes: 5
  separate_missed_fires: false

calendar:
  min_gap_hours: 4
  max_videos_per_day: 3
  blackout_dates: []    # ["2025-12-25"]
  preferred_hours: []   # [9, 12, 15, 18]
  topic_conflicts: false
  topic_similarity_threshold: 0.6

pipeline:
  assets_dir: ""
  output_dir: output
  upload_account: ""
  upload_host: ""
`

// newConfigCmd creates the `reelforge config` command.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter reelforge.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("output")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; remove it first", path)
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("output", "reelforge.yaml", "where to write the config")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
