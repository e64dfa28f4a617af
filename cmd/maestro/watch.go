package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch tasks in a live terminal view",
	Long: `Open a live terminal view of all tasks and their event logs.

The view refreshes from the database on an interval (tui.refresh_rate).
Press tab to switch between tasks and events, r to refresh now, q to quit.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	app := tui.New(db, cfg.TUI.RefreshRate)
	program := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run watch view: %w", err)
	}
	return nil
}
