package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Maestro configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/maestro/config.yaml
Project-specific overrides can be placed in .maestro.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("database.path: %s\n", cfg.Database.Path)
	fmt.Printf("worker.count: %d\n", cfg.Worker.Count)
	fmt.Printf("worker.poll_interval: %s\n", cfg.Worker.PollInterval)
	fmt.Printf("worker.lease_timeout: %s\n", cfg.Worker.LeaseTimeout)
	fmt.Printf("worker.max_steps: %d\n", cfg.Worker.MaxSteps)
	fmt.Printf("worker.max_wall_time: %s\n", cfg.Worker.MaxWallTime)
	fmt.Printf("worker.handler_timeout: %s\n", cfg.Worker.HandlerTimeout)
	fmt.Printf("limits.max_open_tasks: %d\n", cfg.Limits.MaxOpenTasks)
	fmt.Printf("limits.tasks_per_hour: %d\n", cfg.Limits.TasksPerHour)
	fmt.Printf("retention.events: %s\n", cfg.Retention.Events)
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("templates.dir: %s\n", cfg.Templates.Dir)
	fmt.Printf("control.dir: %s\n", cfg.Control.Dir)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "database.path":
		return cfg.Database.Path, nil
	case "worker.count":
		return strconv.Itoa(cfg.Worker.Count), nil
	case "worker.poll_interval":
		return cfg.Worker.PollInterval.String(), nil
	case "worker.lease_timeout":
		return cfg.Worker.LeaseTimeout.String(), nil
	case "worker.max_steps":
		return strconv.Itoa(cfg.Worker.MaxSteps), nil
	case "worker.max_wall_time":
		return cfg.Worker.MaxWallTime.String(), nil
	case "worker.handler_timeout":
		return cfg.Worker.HandlerTimeout.String(), nil
	case "limits.max_open_tasks":
		return strconv.Itoa(cfg.Limits.MaxOpenTasks), nil
	case "limits.tasks_per_hour":
		return strconv.Itoa(cfg.Limits.TasksPerHour), nil
	case "retention.events":
		return cfg.Retention.Events.String(), nil
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "templates.dir":
		return cfg.Templates.Dir, nil
	case "control.dir":
		return cfg.Control.Dir, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "database.path":
		cfg.Database.Path = value
	case "worker.count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for worker.count: %w", err)
		}
		cfg.Worker.Count = n
	case "worker.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for worker.poll_interval: %w", err)
		}
		cfg.Worker.PollInterval = d
	case "worker.lease_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for worker.lease_timeout: %w", err)
		}
		cfg.Worker.LeaseTimeout = d
	case "worker.max_steps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for worker.max_steps: %w", err)
		}
		cfg.Worker.MaxSteps = n
	case "worker.max_wall_time":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for worker.max_wall_time: %w", err)
		}
		cfg.Worker.MaxWallTime = d
	case "worker.handler_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for worker.handler_timeout: %w", err)
		}
		cfg.Worker.HandlerTimeout = d
	case "limits.max_open_tasks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limits.max_open_tasks: %w", err)
		}
		cfg.Limits.MaxOpenTasks = n
	case "limits.tasks_per_hour":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limits.tasks_per_hour: %w", err)
		}
		cfg.Limits.TasksPerHour = n
	case "retention.events":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retention.events: %w", err)
		}
		cfg.Retention.Events = d
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for anthropic.use_aws_bedrock: %w", err)
		}
		cfg.Anthropic.UseAWSBedrock = b
	case "templates.dir":
		cfg.Templates.Dir = value
	case "control.dir":
		cfg.Control.Dir = value
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tui.refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
