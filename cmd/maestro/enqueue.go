package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/state"
)

var (
	enqueueInput       string
	enqueueOwner       string
	enqueueMaxAttempts int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <kind>",
	Short: "Enqueue a task",
	Long: `Enqueue a task for workers to execute.

The kind selects the plan strategy. Kinds with a registered template expand
into multi-step plans; any other kind becomes a single step whose action is
the kind itself (or the "action" input key when present).

Input is an arbitrary JSON object made available to the plan and handlers.

Examples:
  maestro enqueue echo --input '{"message": "hi"}'
  maestro enqueue deploy --input '{"env": "staging"}' --max-attempts 3
  maestro enqueue report --owner team-a`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueInput, "input", "i", "", "Task input as a JSON object")
	enqueueCmd.Flags().StringVar(&enqueueOwner, "owner", "default", "Owner id for quota accounting")
	enqueueCmd.Flags().IntVar(&enqueueMaxAttempts, "max-attempts", 1, "Attempt budget before terminal failure")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	kind := args[0]

	var input map[string]any
	if enqueueInput != "" {
		if err := json.Unmarshal([]byte(enqueueInput), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.EnqueueTask(enqueueOwner, kind, input, enqueueMaxAttempts, state.QueueLimits{
		MaxOpenTasks: cfg.Limits.MaxOpenTasks,
		TasksPerHour: cfg.Limits.TasksPerHour,
	})
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	fmt.Printf("%s Enqueued task %s (kind=%s)\n", color.GreenString("✓"), task.ID, task.Kind)
	return nil
}
