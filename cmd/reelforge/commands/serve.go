package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newServeCmd creates the `reelforge serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling daemon",
		Long: `Start ReelForge as a daemon: the job loop picks up due videos,
the recurring dispatcher expands rules, and pipelines run until stopped.

Examples:
  reelforge serve
  reelforge serve --config ./reelforge.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	sched, cfg, closeStore, err := buildScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	logger := newLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("ReelForge running. Press Ctrl+C to stop.",
		"storage", cfg.Storage.Backend,
		"poll_interval", cfg.Scheduler.PollInterval(),
		"max_concurrent", cfg.Scheduler.MaxConcurrentJobs,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out after 15s, forcing exit")
	}

	return nil
}
