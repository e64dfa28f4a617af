package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cancelReason string

var pauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a running task",
	Long: `Pause a running task.

The worker holding the task notices on its next heartbeat and abandons it;
the pause takes effect immediately in the store. Resume with 'maestro resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db taskController) error {
			if err := db.PauseTask(args[0], "manual", nil); err != nil {
				return err
			}
			fmt.Printf("%s Paused task %s\n", color.YellowString("⏸"), args[0])
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Long: `Return a paused task to the queue.

Resuming a task that is paused awaiting approval grants the approval: the
approval step completes on the next claim instead of suspending again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db taskController) error {
			if err := db.ResumeTask(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Resumed task %s\n", color.GreenString("▶"), args[0])
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Long: `Cancel a task.

Cancellation is terminal. Cancelling an already-terminal task is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db taskController) error {
			if err := db.CancelTask(args[0], cancelReason); err != nil {
				return err
			}
			fmt.Printf("%s Cancelled task %s\n", color.RedString("✗"), args[0])
			return nil
		})
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Reason recorded on the cancel event")
}

// taskController is the store surface the control commands need.
type taskController interface {
	PauseTask(taskID, reason string, data map[string]any) error
	ResumeTask(taskID string) error
	CancelTask(taskID, reason string) error
}

// withStore opens the store, runs fn, and closes it.
func withStore(fn func(taskController) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
