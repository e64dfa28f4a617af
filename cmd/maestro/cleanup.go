package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old audit events",
	Long: `Delete audit events older than the retention window.

Events for terminal tasks accumulate indefinitely otherwise. Task rows are
never deleted; only their event history is trimmed.

Examples:
  maestro cleanup                     # Use retention.events from config
  maestro cleanup --older-than 168h   # Purge events older than a week`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Purge events older than this (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	olderThan := cleanupOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Retention.Events
	}
	if olderThan <= 0 {
		return fmt.Errorf("no retention window configured; pass --older-than")
	}

	n, err := db.PurgeOldEvents(olderThan)
	if err != nil {
		return fmt.Errorf("purge events: %w", err)
	}
	fmt.Printf("Purged %d events older than %s\n", n, olderThan)
	return nil
}
