package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/internal/archive"
	"github.com/kestrelhq/kestrel/internal/database"
	"github.com/kestrelhq/kestrel/internal/executions"
	"github.com/kestrelhq/kestrel/internal/reports"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune old execution logs once",
	Long: `Delete execution log rows older than each schedule's retention and,
when archival is enabled, sweep expired artifacts. Runs once and exits.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogging(cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	schedules := reports.NewStore(db)
	logs := executions.NewStore(db)

	ctx := context.Background()

	pruner := executions.NewPruner(schedules, logs, 0, cfg.Scheduler.PruneTimeout)
	removed, err := pruner.RunOnce(ctx)
	if err != nil {
		return err
	}
	log.Info().Int64("removed", removed).Msg("Execution logs pruned")

	if cfg.Archive.Enabled {
		backend, err := archive.NewBackend(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		swept, err := archive.NewService(backend, cfg.Archive.Retention).Sweep(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("removed", swept).Msg("Archived artifacts swept")
	}

	return nil
}
