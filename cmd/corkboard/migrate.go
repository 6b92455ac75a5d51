package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"corkboard/internal/config"
	"corkboard/internal/logging"
	"corkboard/internal/store"
)

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Long: `Apply every pending up migration from the configured migrations directory.
With --down N the newest N applied migrations are reverted instead; --down -1
reverts all of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
		logger := logging.WithComponent("migrate")

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if rollbackSteps != 0 {
			steps := rollbackSteps
			if steps < 0 {
				steps = 0
			}
			reverted, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, steps)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			logger.Info().Strs("reverted", reverted).Int("count", len(reverted)).Msg("rollback complete")
			return nil
		}

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info().Strs("applied", applied).Int("count", len(applied)).Msg("migrations complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&rollbackSteps, "down", 0, "revert this many applied migrations (-1 for all)")
}
