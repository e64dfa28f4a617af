// Package config handles configuration loading and management for Maestro.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Maestro.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Retention RetentionConfig `mapstructure:"retention"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Control   ControlConfig   `mapstructure:"control"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig holds worker loop settings.
type WorkerConfig struct {
	Count          int           `mapstructure:"count"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout"`
	MaxSteps       int           `mapstructure:"max_steps"`
	MaxWallTime    time.Duration `mapstructure:"max_wall_time"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// LimitsConfig holds per-owner queue quotas. Zero values disable a quota.
type LimitsConfig struct {
	MaxOpenTasks int `mapstructure:"max_open_tasks"`
	TasksPerHour int `mapstructure:"tasks_per_hour"`
}

// RetentionConfig holds event retention settings.
type RetentionConfig struct {
	Events time.Duration `mapstructure:"events"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// TemplatesConfig holds plan template settings.
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// ControlConfig holds control signal settings.
type ControlConfig struct {
	Dir string `mapstructure:"dir"`
}

// TUIConfig holds watch display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.maestro.yaml in current directory or parent)
// 3. User config (~/.config/maestro/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence over the user config.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("database.path", "MAESTRO_DB")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("database.path", cfg.Database.Path)
	v.Set("worker.count", cfg.Worker.Count)
	v.Set("worker.poll_interval", cfg.Worker.PollInterval.String())
	v.Set("worker.lease_timeout", cfg.Worker.LeaseTimeout.String())
	v.Set("worker.max_steps", cfg.Worker.MaxSteps)
	v.Set("worker.max_wall_time", cfg.Worker.MaxWallTime.String())
	v.Set("worker.handler_timeout", cfg.Worker.HandlerTimeout.String())
	v.Set("limits.max_open_tasks", cfg.Limits.MaxOpenTasks)
	v.Set("limits.tasks_per_hour", cfg.Limits.TasksPerHour)
	v.Set("retention.events", cfg.Retention.Events.String())
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("templates.dir", cfg.Templates.Dir)
	v.Set("control.dir", cfg.Control.Dir)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "")

	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.lease_timeout", "2m")
	v.SetDefault("worker.max_steps", 50)
	v.SetDefault("worker.max_wall_time", "30m")
	v.SetDefault("worker.handler_timeout", "5m")

	v.SetDefault("limits.max_open_tasks", 0)
	v.SetDefault("limits.tasks_per_hour", 0)

	v.SetDefault("retention.events", "720h")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("templates.dir", "")
	v.SetDefault("control.dir", "")

	v.SetDefault("tui.refresh_rate", "1s")
}

// getUserConfigDir returns the XDG config directory for Maestro.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "maestro")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "maestro")
	}
	return filepath.Join(home, ".config", "maestro")
}

// expandEnv expands ${VAR} references in config values.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Count:          1,
			PollInterval:   time.Second,
			LeaseTimeout:   2 * time.Minute,
			MaxSteps:       50,
			MaxWallTime:    30 * time.Minute,
			HandlerTimeout: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			Events: 720 * time.Hour,
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}

// findProjectConfig searches for .maestro.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".maestro.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
