package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
	"github.com/ShayCichocki/maestro/internal/executor"
	"github.com/ShayCichocki/maestro/internal/handlers"
	"github.com/ShayCichocki/maestro/internal/plan"
)

var (
	workerCount int
	workerDebug bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run task workers",
	Long: `Run a pool of workers that claim and execute queued tasks.

Workers poll the database for claimable tasks, build or restore the task's
plan, and execute steps in dependency order. Tasks paused for approval stay
paused until 'maestro resume' grants them. The pool shuts down gracefully on
SIGINT/SIGTERM; any task mid-flight is reclaimed by lease expiry.

Examples:
  maestro worker              # Run with configured worker count
  maestro worker -n 4         # Run four workers
  maestro worker --debug      # Write a debug log next to the database`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerCount, "workers", "n", 0, "Number of workers (default from config)")
	workerCmd.Flags().BoolVar(&workerDebug, "debug", false, "Write a debug log file")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if workerDebug {
		logPath := filepath.Join(filepath.Dir(db.Path()), "maestro-debug.log")
		logger, err := executor.NewDebugLogger(logPath)
		if err != nil {
			return fmt.Errorf("create debug logger: %w", err)
		}
		defer logger.Close()
		executor.SetPackageLogger(logger)
		fmt.Printf("Debug log: %s\n", logPath)
	}

	// Purge expired events before starting.
	if cfg.Retention.Events > 0 {
		if n, err := db.PurgeOldEvents(cfg.Retention.Events); err == nil && n > 0 {
			fmt.Printf("Purged %d old events\n", n)
		}
	}

	planner := plan.NewBuilder()
	if cfg.Templates.Dir != "" {
		if err := plan.LoadTemplates(planner, cfg.Templates.Dir); err != nil {
			return fmt.Errorf("load plan templates: %w", err)
		}
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	n := workerCount
	if n <= 0 {
		n = cfg.Worker.Count
	}
	if n <= 0 {
		n = 1
	}

	pool := executor.NewPool(n, db, planner, registry, executor.Config{
		PollInterval: cfg.Worker.PollInterval,
		LeaseTimeout: cfg.Worker.LeaseTimeout,
		Limits: executor.Limits{
			MaxSteps:       cfg.Worker.MaxSteps,
			MaxWallTime:    cfg.Worker.MaxWallTime,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		},
	})

	controlDir := cfg.Control.Dir
	if controlDir == "" {
		controlDir = filepath.Join(filepath.Dir(db.Path()), "control")
	}
	watcher, err := executor.NewControlWatcher(controlDir, db)
	if err != nil {
		return fmt.Errorf("start control watcher: %w", err)
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if watcher.ShouldStop() {
					fmt.Println("Stop signal received, shutting down...")
					cancel()
					return
				}
			}
		}
	}()

	fmt.Printf("Running %d worker(s), actions: %v\n", pool.Size(), registry.Actions())
	pool.Start(ctx)

	<-ctx.Done()
	pool.Stop()
	fmt.Println("Workers stopped.")
	return nil
}

// buildRegistry wires the built-in handlers plus llm_call when credentials exist.
func buildRegistry(cfg *config.Config) (*executor.Registry, error) {
	registry := executor.NewRegistry()
	handlers.RegisterBuiltins(registry)

	hasCreds := cfg.Anthropic.APIKey != "" ||
		os.Getenv("ANTHROPIC_API_KEY") != "" ||
		cfg.Anthropic.UseAWSBedrock
	if hasCreds {
		client, err := handlers.NewLLMClient(handlers.LLMConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        cfg.Anthropic.APIKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		registry.Register(executor.ActionLLMCall, handlers.LLMCall(client))
	}
	return registry, nil
}
