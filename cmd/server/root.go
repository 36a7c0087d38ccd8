package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/ledgersync/internal/config"
	"github.com/mmynk/ledgersync/pkg/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Offline-first personal debt ledger",
		Long: `ledgerd keeps a local ledger of money owed (PAY) and owed to you (COLLECT)
and reconciles it with a remote sync server whenever one is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// config init writes the file the others would read.
			if cmd.Name() == "init" {
				opts.logger = logging.Setup(opts.LogLevel)
				return nil
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.cfg = cfg
			opts.logger = logging.Setup(cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newConfigCommand())

	return cmd
}
