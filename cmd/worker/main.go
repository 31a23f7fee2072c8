package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/txn-tidy/internal/app"
	"github.com/dvloznov/txn-tidy/internal/jobs"
	"github.com/dvloznov/txn-tidy/internal/jobs/inmemory"
	"github.com/dvloznov/txn-tidy/internal/logger"
)

func main() {
	retries := flag.Int("retries", 1, "Times a failed run is re-queued (lock contention, store errors)")
	dryRun := flag.Bool("dry-run", false, "Classify but do not write to any store")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: worker [options] <config.yaml|gs://bucket/config.yaml>...")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	// One worker: runs never overlap, even across configs sharing a store.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(flag.NArg(), 1, jobStore)

	for _, path := range flag.Args() {
		job := &jobs.TidyRunJob{ConfigPath: path, DryRun: *dryRun, MaxRetries: *retries}
		if err := jobQueue.PublishTidyRun(ctx, job); err != nil {
			log.Fatal().Err(err).Str("config", path).Msg("Failed to queue run")
		}
	}

	if err := jobQueue.Start(ctx, handleTidyRun); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}
	log.Info().Int("jobs", flag.NArg()).Msg("Worker started")

	if err := jobQueue.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Interrupted before all runs finished")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	all, err := jobStore.ListJobs(context.Background(), jobs.JobFilter{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list jobs")
	}
	failed := 0
	for _, job := range all {
		ev := log.Info()
		if job.Status != jobs.JobStatusCompleted {
			failed++
			ev = log.Error().Str("error", job.Error)
		}
		ev.Str("config", job.ConfigPath).
			Str("status", string(job.Status)).
			Str("run_id", job.RunID).
			Int("updated", job.Updated).
			Str("report", job.ReportURI).
			Msg("Run finished")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// handleTidyRun loads the job's configuration and runs it to completion.
func handleTidyRun(ctx context.Context, job *jobs.TidyRunJob) error {
	cfg, err := app.LoadConfig(ctx, job.ConfigPath)
	if err != nil {
		return fmt.Errorf("handleTidyRun: %w", err)
	}
	if job.DryRun {
		cfg.DryRun = true
	}

	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("config", job.ConfigPath).Logger()
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("handleTidyRun: %w", err)
	}

	res, runErr := a.Run(ctx)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("handleTidyRun: %w", runErr)
	}

	job.RunID = res.Stats.RunID
	job.Updated = res.Stats.Updated
	job.ReportURI = res.ReportURI
	return nil
}
