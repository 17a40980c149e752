package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/journey/internal/cli"
	"github.com/aretw0/journey/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "journey",
	Short: "Journey turns workflow graphs into conversational journeys",
	Long: `Journey maps workflow graphs into conversational state machines and drives
them through chat sessions, over HTTP, MCP or an interactive terminal.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("dir", "", "Directory containing the workflow graphs (overrides graphs_dir)")
	rootCmd.PersistentFlags().String("format", "", "Workflow source format: yaml or loam (overrides graphs_format)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// loadConfig layers the config file, the environment and the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.GraphsDir = dir
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		cfg.GraphsFormat = format
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger and the app from it.
func setup(cmd *cobra.Command) (config.Config, *cli.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := cli.NewLogger(cfg, debug)
	if err != nil {
		return cfg, nil, err
	}
	slog.SetDefault(logger)

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, app, nil
}
