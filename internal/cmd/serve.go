package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"samay/internal/logger"
	"samay/internal/scheduler"
	"samay/internal/server"
	"samay/internal/task"
)

var serveConfigPath string

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP API and background jobs",
		RunE:    runServe,
	}

	cmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file")

	return cmd
}

type jobSchedule struct {
	name     string
	enabled  bool
	interval string
	cron     string
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(serveConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	deps, err := a.serverDeps()
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := a.cfg.Jobs
	schedules := []jobSchedule{
		{name: task.JobMerge, enabled: jobs.EnableMerge, interval: jobs.MergeInterval, cron: jobs.MergeCron},
		{name: task.JobTagging, enabled: jobs.EnableTagging, interval: jobs.TaggingInterval, cron: jobs.TaggingCron},
		{name: task.JobInsights, enabled: jobs.EnableInsights, cron: jobs.InsightsCron},
	}

	var running []scheduler.Scheduler
	defer func() {
		for _, s := range running {
			if err := s.Stop(); err != nil {
				logger.GetLogger().Warnf("Failed to stop scheduler: %v", err)
			}
		}
	}()

	for _, js := range schedules {
		if !js.enabled {
			logger.GetLogger().Infof("Job %s disabled", js.name)
			continue
		}
		sched, err := scheduler.NewScheduler(js.interval, js.cron, a.executor.Location())
		if err != nil {
			return fmt.Errorf("failed to create %s scheduler: %w", js.name, err)
		}
		name := js.name
		run := scheduler.Track(name, func() error {
			_, err := a.executor.Run(ctx, name)
			return err
		})
		if err := sched.Start(run); err != nil {
			return fmt.Errorf("failed to start %s scheduler: %w", name, err)
		}
		running = append(running, sched)
		logger.GetLogger().Infof("Scheduled %s job (interval: %q, cron: %q)", name, js.interval, js.cron)
	}

	if jobs.EnableInsights && jobs.InsightsRunOnStart {
		go func() {
			logger.GetLogger().Info("Executing initial insights run on startup...")
			_ = scheduler.Track(task.JobInsights, func() error {
				_, err := a.executor.Run(ctx, task.JobInsights)
				return err
			})()
		}()
	}

	srv := server.New(a.cfg.Server, deps)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.GetLogger().Info("Samay started. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.GetLogger().Infof("Received %s, stopping...", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	logger.GetLogger().Info("Stopped.")

	return nil
}
