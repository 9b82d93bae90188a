package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/github-issue-graph/config"
	"github.com/wesm/github-issue-graph/internal/logging"
	"github.com/wesm/github-issue-graph/internal/sync"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ghgraph",
	Short: "ghgraph - GitHub issues as a graph",
	Long: `ghgraph walks the milestones, issues, pull requests and comments of GitHub
repositories and writes them as a property graph, linking everything the
markdown bodies reference.

Example:
  ghgraph scan githubissues.xml
  ghgraph scan --config config.json --repo kontext-e/jqassistant-plugins`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file if it doesn't exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default configuration: %w", err)
		}
		slog.Info("Created default configuration", "path", configPath)
		return nil
	},
}

var addRepoCmd = &cobra.Command{
	Use:   "add-repo owner/name",
	Short: "Add a repository to the configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := sync.ParseRepositoryString(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if !cfg.AddRepository(owner, name) {
			slog.Info("Repository already exists in configuration", "repository", args[0])
			return nil
		}
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		slog.Info("Added repository to configuration", "repository", args[0])
		return nil
	},
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd, addRepoCmd, scanCmd)
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(logging.New(os.Stderr, level))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
