package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/pkg/models"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show task state",
	Long: `Display the current state of tasks.

Without arguments, lists open tasks (queued, running, paused). With a task
id, shows that task's full detail including its plan position and error.

Running tasks whose lease has expired are marked reclaimable; a worker will
pick them up on its next poll.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusAll, "all", "a", false, "Include terminal tasks")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		task, err := db.GetTask(args[0])
		if err != nil {
			return err
		}
		displayTask(task)
		return nil
	}

	var tasks []*models.Task
	if statusAll {
		tasks, err = db.ListTasks()
	} else {
		tasks, err = db.ListTasks(models.TaskStatusQueued, models.TaskStatusRunning, models.TaskStatusPaused)
	}
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks. Run 'maestro enqueue <kind>' to create one.")
		return nil
	}

	now := time.Now()
	for _, t := range tasks {
		fmt.Printf("  %s  %-16s %s  attempts %d/%d",
			t.ID[:8], t.Kind, statusLabel(t, now), t.Attempts, t.MaxAttempts)
		if t.CurrentStepID != "" {
			fmt.Printf("  step %s", t.CurrentStepID)
		}
		fmt.Println()
	}
	return nil
}

func displayTask(t *models.Task) {
	fmt.Printf("Task: %s\n", t.ID)
	fmt.Printf("  Owner: %s\n", t.OwnerID)
	fmt.Printf("  Kind: %s\n", t.Kind)
	fmt.Printf("  Status: %s\n", statusLabel(t, time.Now()))
	if t.PauseReason != "" {
		fmt.Printf("  Pause reason: %s\n", t.PauseReason)
	}
	fmt.Printf("  Attempts: %d/%d\n", t.Attempts, t.MaxAttempts)
	if t.WorkerID != "" {
		fmt.Printf("  Worker: %s\n", t.WorkerID)
	}
	if t.LeaseExpiresAt != nil {
		fmt.Printf("  Lease expires: %s\n", t.LeaseExpiresAt.Local().Format(time.RFC3339))
	}
	if t.PlanID != "" {
		fmt.Printf("  Plan: %s\n", t.PlanID)
	}
	if t.CurrentStepID != "" {
		fmt.Printf("  Current step: %s\n", t.CurrentStepID)
	}
	if t.Error != "" {
		fmt.Printf("  Error: %s\n", color.RedString(t.Error))
	}
	fmt.Printf("  Created: %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Printf("  Started: %s\n", t.StartedAt.Local().Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
}

// statusLabel colors a task status and marks expired running leases.
func statusLabel(t *models.Task, now time.Time) string {
	if t.Status == models.TaskStatusRunning && t.LeaseExpired(now) {
		return color.YellowString("reclaimable")
	}
	switch t.Status {
	case models.TaskStatusQueued:
		return color.WhiteString(string(t.Status))
	case models.TaskStatusRunning:
		return color.GreenString(string(t.Status))
	case models.TaskStatusPaused:
		return color.YellowString(string(t.Status))
	case models.TaskStatusSucceeded:
		return color.HiGreenString(string(t.Status))
	case models.TaskStatusFailed:
		return color.RedString(string(t.Status))
	case models.TaskStatusCancelled:
		return color.HiBlackString(string(t.Status))
	default:
		return string(t.Status)
	}
}
