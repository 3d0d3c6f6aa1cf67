package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/navsync/internal/config"
	"github.com/dukerupert/navsync/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// Global flag values, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
	flagJSON       bool
)

// cfg is loaded once in PersistentPreRunE and read by every subcommand.
var cfg *config.Config

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "navsync",
		Short:         "Bookmark backup server and sync client",
		Long:          "navsync stores bookmark backups on a server and keeps a local dataset backed up automatically.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "navsync.toml", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "log as JSON")

	cmd.AddCommand(
		newServeCmd(),
		newAgentCmd(),
		newSyncCmd(),
		newBackupCmd(),
		newTokenCmd(),
	)

	return cmd
}

// buildLogger creates the process logger. Config sets the baseline level
// and --verbose overrides it.
func buildLogger() (*slog.Logger, io.Closer) {
	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	return logging.Setup(logging.Options{Level: level, File: cfg.LogFile, JSON: flagJSON})
}
