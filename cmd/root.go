// Package cmd implements the likechat command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	infraconfig "github.com/jonesrussell/north-cloud/likechat/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/likechat/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	debug   bool
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "likechat",
		Short:         "Mutual engagement queue and verification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", infraconfig.GetConfigPath("config.yml"), "path to configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newQueueCommand(),
		newProgressCommand(),
		newTokenCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadRuntime loads configuration and creates the logger.
func loadRuntime() (*config.Config, infralogger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if Version != "dev" {
		cfg.Service.Version = Version
	}
	log, err := bootstrap.CreateLogger(cfg, debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// openStores opens the configured stores for an admin command.
func openStores(cmd *cobra.Command) (*bootstrap.Stores, *config.Config, error) {
	cfg, log, err := loadRuntime()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend == config.StorageMemory {
		log.Warn("Memory storage is per process: admin commands see an empty store")
	}
	stores, err := bootstrap.SetupStores(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return stores, cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "likechat %s\n", Version)
		},
	}
}
