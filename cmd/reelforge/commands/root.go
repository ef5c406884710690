// Package commands implements the ReelForge CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/reelforge/pkg/reelforge/calendar"
	"github.com/jholhewres/reelforge/pkg/reelforge/config"
	"github.com/jholhewres/reelforge/pkg/reelforge/executor"
	"github.com/jholhewres/reelforge/pkg/reelforge/pipeline"
	"github.com/jholhewres/reelforge/pkg/reelforge/scheduler"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reelforge",
		Short: "ReelForge - faceless video automation",
		Long: `ReelForge schedules and produces short-form videos automatically:
script synthesis, media assembly and upload, driven by one-shot jobs
and recurring rules.

Examples:
  reelforge serve
  reelforge schedule add "5 productivity hacks" --at 2025-06-01T15:00
  reelforge rule add-daily "Tip of the day {date}" --hour 10
  reelforge calendar suggest --count 3`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newScheduleCmd(),
		newRuleCmd(),
		newCalendarCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config from the --config flag, a discovered file,
// or the built-in defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// newLogger builds the slog logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// openStore builds the configured persistence backend.
func openStore(cfg *config.Config, logger *slog.Logger) (scheduler.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "", "file":
		store, err := scheduler.NewFileStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "sqlite":
		store, err := scheduler.OpenSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildScheduler wires the full scheduling core from config. The stub stages
// stand in until real providers are plugged here.
func buildScheduler(cmd *cobra.Command) (*scheduler.Scheduler, *config.Config, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cmd, cfg)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	cal := calendar.New(cfg.Calendar, nil, logger)
	stages := scheduler.Stages{
		Script:   &pipeline.StubSynthesizer{},
		Assembly: &pipeline.StubAssembler{},
		Upload:   &pipeline.StubUploader{Host: cfg.Pipeline.UploadHost},
	}
	schedCfg := scheduler.Config{
		PollInterval:        cfg.Scheduler.PollInterval(),
		MaxConcurrentJobs:   cfg.Scheduler.MaxConcurrentJobs,
		RetryDelay:          cfg.Scheduler.RetryDelay(),
		MaxRetryDelay:       minutes(cfg.Scheduler.MaxRetryDelayMin),
		DefaultMaxRetries:   cfg.Scheduler.DefaultMaxRetries,
		PipelineTimeout:     minutes(cfg.Scheduler.PipelineTimeoutMin),
		SeparateMissedFires: cfg.Scheduler.SeparateMissedFires,
		MisfireGrace:        minutes(cfg.Scheduler.MisfireGraceMin),
		Timezone:            cfg.Timezone,
		AssetsDir:           cfg.Pipeline.AssetsDir,
		OutputDir:           cfg.Pipeline.OutputDir,
		UploadAccount:       cfg.Pipeline.UploadAccount,
	}

	exec := executor.New(executor.Options{
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		DefaultTimeout: minutes(cfg.Executor.DefaultTimeoutMin),
		HistoryLimit:   cfg.Executor.HistoryLimit,
		HistoryMaxAge:  minutes(cfg.Executor.HistoryMaxAgeMinutes),
	}, nil, logger)

	sched, err := scheduler.New(schedCfg, stages, store, exec, cal, nil, logger)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return sched, cfg, closeStore, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
