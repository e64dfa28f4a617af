package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <task-id>",
	Short: "Show the audit event log for a task",
	Long: `Display the full ordered event history of a task.

Every state transition and step execution appends an event, so this is the
authoritative record of what happened to a task and when.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Verify the task exists so a typo'd id is an error, not an empty list.
	if _, err := db.GetTask(args[0]); err != nil {
		return err
	}

	events, err := db.ListEvents(args[0])
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-18s", ev.CreatedAt.Local().Format(time.RFC3339), ev.Type)
		if ev.StepID != "" {
			line += "  step=" + ev.StepID
		}
		if ev.Handler != "" {
			line += "  handler=" + ev.Handler
		}
		if len(ev.Data) > 0 {
			if b, err := json.Marshal(ev.Data); err == nil {
				line += "  " + string(b)
			}
		}
		fmt.Println(line)
	}
	return nil
}
