package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clocksys "github.com/umaten/autopress/internal/clock/system"
	uuidid "github.com/umaten/autopress/internal/id/uuid"
	"github.com/umaten/autopress/internal/intake"
	"github.com/umaten/autopress/internal/pipeline"
	"github.com/umaten/autopress/internal/progress"
	"github.com/umaten/autopress/internal/progress/sinks"
	"github.com/umaten/autopress/internal/runner"
	"github.com/umaten/autopress/internal/settings"
	statusmem "github.com/umaten/autopress/internal/status/memory"
	"github.com/umaten/autopress/internal/usage"
)

func newRunCmd() *cobra.Command {
	var (
		urls    []string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process listing URLs once and exit",
		Long: `Fetches each listing URL, generates an article, and pushes it to the
configured WordPress site without starting the HTTP API. Jobs run
sequentially; results are printed to stdout as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(urls) == 0 {
				return errors.New("at least one --url is required")
			}
			return runOnce(cmd.Context(), urls, publish)
		},
	}
	cmd.Flags().StringArrayVar(&urls, "url", nil, "listing URL to process (repeatable)")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish immediately instead of saving drafts")
	return cmd
}

func runOnce(ctx context.Context, urls []string, publish bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	clk := clocksys.New()
	ids := uuidid.New()
	statusStore := statusmem.NewStatusStore()
	settingsStore := settings.NewStore(pipeline.Settings{
		ArticlesPerHour: cfg.Pipeline.ArticlesPerHour,
		AutoPublish:     publish,
		ConcurrentJobs:  1,
	})
	tracker := usage.NewTracker(clk)
	scraper, generator, publisher := buildCollaborators(cfg, logger)

	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	jobRunner := runner.New(
		statusStore,
		hub,
		scraper,
		generator,
		publisher,
		tracker,
		settingsStore,
		clk,
		runner.Config{
			MinPhotos:  cfg.Pipeline.MinPhotos,
			InputRate:  cfg.Pipeline.InputRate,
			OutputRate: cfg.Pipeline.OutputRate,
		},
		logger.Named("runner"),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var failed int
	for _, raw := range urls {
		url := intake.NormalizeURL(raw)
		jobID, err := ids.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job := pipeline.Job{ID: jobID, URL: url, Submitted: clk.Now()}
		if err := statusStore.Create(pipeline.JobStatus{
			JobID:   jobID,
			URL:     url,
			State:   pipeline.StateQueued,
			Step:    "waiting",
			Created: clk.Now(),
		}); err != nil {
			return fmt.Errorf("create status: %w", err)
		}

		jobRunner.Process(ctx, job)

		status, ok := statusStore.Get(jobID)
		if !ok {
			return fmt.Errorf("status for job %s disappeared", jobID)
		}
		if status.State == pipeline.StateError {
			failed++
			logger.Error("job failed", zap.String("url", url), zap.String("error", status.Error))
		}
		if err := enc.Encode(status); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(urls))
	}
	return nil
}
