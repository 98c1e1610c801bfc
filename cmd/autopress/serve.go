package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/api"
	clocksys "github.com/umaten/autopress/internal/clock/system"
	"github.com/umaten/autopress/internal/config"
	"github.com/umaten/autopress/internal/generator/claude"
	uuidid "github.com/umaten/autopress/internal/id/uuid"
	"github.com/umaten/autopress/internal/intake"
	"github.com/umaten/autopress/internal/pipeline"
	"github.com/umaten/autopress/internal/progress"
	"github.com/umaten/autopress/internal/progress/sinks"
	"github.com/umaten/autopress/internal/publisher/wordpress"
	queuemem "github.com/umaten/autopress/internal/queue/memory"
	"github.com/umaten/autopress/internal/runner"
	"github.com/umaten/autopress/internal/scheduler"
	"github.com/umaten/autopress/internal/scraper/tabelog"
	"github.com/umaten/autopress/internal/settings"
	statusmem "github.com/umaten/autopress/internal/status/memory"
	"github.com/umaten/autopress/internal/telemetry"
	"github.com/umaten/autopress/internal/usage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the publishing service",
		Long: `Starts the HTTP API and the supervising loop. Submitted listing URLs are
queued, processed up to the configured concurrency and hourly caps, and
published to the configured WordPress site.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// pipelineStats adapts the live components to the telemetry gauge interface.
type pipelineStats struct {
	queue   pipeline.Queue
	sched   *scheduler.Scheduler
	tracker *usage.Tracker
}

func (p pipelineStats) QueueLen() int                 { return p.queue.Len() }
func (p pipelineStats) InFlight() int                 { return p.sched.InFlight() }
func (p pipelineStats) SnapshotUsage() usage.Snapshot { return p.tracker.SnapshotUsage() }

func runServe(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	clk := clocksys.New()
	ids := uuidid.New()
	queue := queuemem.NewQueue()
	statusStore := statusmem.NewStatusStore()
	settingsStore := settings.NewStore(pipeline.Settings{
		ArticlesPerHour: cfg.Pipeline.ArticlesPerHour,
		AutoPublish:     cfg.Pipeline.AutoPublish,
		ConcurrentJobs:  cfg.Pipeline.ConcurrentJobs,
	})
	tracker := usage.NewTracker(clk)
	scraper, generator, publisher := buildCollaborators(cfg, logger)

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	broadcast := sinks.NewBroadcastSink(0)
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		broadcast,
	)

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
	sched := scheduler.New(
		queue,
		settingsStore,
		tracker,
		jobRunner,
		scheduler.Config{TickInterval: cfg.Tick(), PoolSize: cfg.Pipeline.PoolSize},
		logger.Named("scheduler"),
	)
	admit := intake.New(queue, statusStore, scraper, ids, clk, logger.Named("intake"))

	telemetry.RegisterPipelineGauges(pipelineStats{queue: queue, sched: sched, tracker: tracker})

	apiServer := api.NewServer(cfg, api.Deps{
		Intake:    admit,
		Status:    statusStore,
		Queue:     queue,
		Runs:      sched,
		Settings:  settingsStore,
		Usage:     tracker,
		Publisher: publisher,
		Events:    broadcast,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		logger.Info("scheduler started", zap.Duration("tick", cfg.Tick()))
		sched.Run(schedCtx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stopSched()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	stopSched()
	<-schedDone
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildCollaborators constructs the three external-facing components from
// configuration.
func buildCollaborators(cfg config.Config, logger *zap.Logger) (*tabelog.Scraper, *claude.Generator, *wordpress.Publisher) {
	scraper := tabelog.New(tabelog.Config{
		UserAgent:         cfg.Scraper.UserAgent,
		Timeout:           time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
	}, logger.Named("scraper"))
	generator := claude.New(claude.Config{
		APIKey:      cfg.Claude.APIKey,
		BaseURL:     cfg.Claude.BaseURL,
		Model:       cfg.Claude.Model,
		MaxTokens:   cfg.Claude.MaxTokens,
		Temperature: cfg.Claude.Temperature,
		Timeout:     time.Duration(cfg.Claude.TimeoutSeconds) * time.Second,
		MaxRetries:  cfg.Claude.MaxRetries,
	}, logger.Named("generator"))
	publisher := wordpress.New(wordpress.Config{
		BaseURL:     cfg.WordPress.SiteURL,
		Username:    cfg.WordPress.Username,
		AppPassword: cfg.WordPress.AppPassword,
		Timeout:     time.Duration(cfg.WordPress.TimeoutSeconds) * time.Second,
	}, logger.Named("publisher"))
	return scraper, generator, publisher
}
