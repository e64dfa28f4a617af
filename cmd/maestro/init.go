package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
	"github.com/ShayCichocki/maestro/internal/state"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the Maestro database and config",
	Long: `Initialize Maestro for first use.

This command:
  - Creates the user config file if missing
  - Creates the task database and applies schema migrations
  - Checks whether ANTHROPIC_API_KEY is available for llm_call steps

Examples:
  maestro init              # Initialize with defaults
  maestro init --db ./m.db  # Use a specific database path
  maestro init --force      # Rewrite the config file with defaults`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite the config file even if it exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.GetUserConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) || initForce {
		if err := config.Save(config.Default()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Wrote config to %s", configPath), color.FgGreen)
	} else {
		printStatus("✓", fmt.Sprintf("Config exists at %s", configPath), color.FgGreen)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := openStore(cfg)
	if err != nil {
		printStatus("✗", "Database initialization failed", color.FgRed)
		return err
	}
	defer db.Close()
	printStatus("✓", fmt.Sprintf("Database ready at %s", filepath.Clean(dbPath)), color.FgGreen)

	if os.Getenv("ANTHROPIC_API_KEY") == "" && cfg.Anthropic.APIKey == "" && !cfg.Anthropic.UseAWSBedrock {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (llm_call steps will fail until it is)", color.FgYellow)
	} else {
		printStatus("✓", "Anthropic credentials configured", color.FgGreen)
	}

	fmt.Printf("\n%s Maestro initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  maestro enqueue echo --input '{\"message\": \"hello\"}'")
	fmt.Println("  maestro worker")
	return nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
