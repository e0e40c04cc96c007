package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/alerts"
	"github.com/kestrelhq/kestrel/internal/archive"
	"github.com/kestrelhq/kestrel/internal/database"
	"github.com/kestrelhq/kestrel/internal/executions"
	"github.com/kestrelhq/kestrel/internal/executor"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/notifications"
	"github.com/kestrelhq/kestrel/internal/renderer"
	"github.com/kestrelhq/kestrel/internal/reports"
	"github.com/kestrelhq/kestrel/internal/scheduler"
	"github.com/kestrelhq/kestrel/internal/worker"
)

var serveDryRun bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling engine",
	Long: `Run the scheduler loop, execution workers and log pruner.

The scheduler wakes once per tick interval, matches active schedules
against their cron expressions, and hands each fired instant to a worker.
Use --dry-run to log notifications instead of delivering them.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "log notifications instead of sending them")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogging(cfg.Logging)

	if serveDryRun {
		cfg.Notifications.DryRun = true
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	schedules := reports.NewStore(db)
	logs := executions.NewStore(db)

	validator := alerts.NewValidator(alerts.NewSQLConnector(), cfg.Alerts.QueryTimeout)
	rendererClient := renderer.NewClient(cfg.Renderer)
	dispatcher := notifications.NewDispatcher(cfg.Notifications)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiveSvc *archive.Service
	if cfg.Archive.Enabled {
		backend, err := archive.NewBackend(ctx, cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up artifact archive")
		}
		archiveSvc = archive.NewService(backend, cfg.Archive.Retention)
	}

	command := executor.NewCommand(
		schedules,
		logs,
		validator,
		rendererClient,
		dispatcher,
		archiveSvc,
		cfg.Notifications.LinkBaseURL,
	)

	pool := worker.NewPool(cfg.Workers.Count, cfg.Workers.QueueSize, func(ctx context.Context, task scheduler.Task) error {
		return command.Run(ctx, task.ScheduleID, task.TriggeredAt)
	})
	pool.Start()
	defer pool.Stop()

	sched := scheduler.New(schedules, pool, cfg.Scheduler)
	sched.Start()
	defer sched.Stop()

	pruner := executions.NewPruner(schedules, logs, cfg.Scheduler.PruneInterval, cfg.Scheduler.PruneTimeout)
	pruner.Start()
	defer pruner.Stop()

	if archiveSvc != nil {
		go sweepLoop(ctx, archiveSvc, cfg.Scheduler.PruneInterval)
	}

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Address)
		metricsSrv.Start()
	}

	log.Info().
		Str("database", cfg.Database.Path).
		Dur("tick_interval", cfg.Scheduler.TickInterval).
		Int("workers", cfg.Workers.Count).
		Bool("dry_run", cfg.Notifications.DryRun).
		Msg("Engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received")
	cancel()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	return nil
}

// sweepLoop periodically removes archived artifacts past their retention.
func sweepLoop(ctx context.Context, svc *archive.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Artifact sweep failed")
			}
		}
	}
}
