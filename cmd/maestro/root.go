package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
	"github.com/ShayCichocki/maestro/internal/state"
)

var rootDBPath string

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Durable task orchestrator",
	Long: `Maestro runs long-lived tasks as plans of dependent steps, persisting
every state transition to SQLite so that work survives process crashes.

Workers claim queued tasks with expiring leases, execute plan steps through
pluggable handlers, and pause tasks that need human approval. A crashed
worker's tasks become claimable again once their lease expires.

Core capabilities:
- Lease-based task claiming with automatic crash recovery
- Plan DAGs with dependency ordering and conditional skipping
- Approval steps that suspend a task until a human resumes it
- Retry with attempt budgets and terminal failure on resource limits
- Full per-task audit event log`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDBPath, "db", "", "Path to the task database (default: XDG data dir)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration with the --db flag applied on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if rootDBPath != "" {
		cfg.Database.Path = rootDBPath
	}
	return cfg, nil
}

// openStore opens and migrates the task database for a loaded config.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = state.DefaultDBPath()
	}

	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
