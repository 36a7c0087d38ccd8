package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/ledgersync/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the ledgerd config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a config file with the default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", args[0])
			return nil
		},
	})

	return cmd
}
