package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one push/pull cycle against the remote",
		Long: `Push every unsynchronized local change, then pull remote changes since the
stored cursor. A failed cycle leaves local state intact and can be rerun.

Example:
  ledgerd sync --config ./ledgerd.yaml
  LEDGER_REMOTE_URL=https://sync.example.com ledgerd sync --user user-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = opts.cfg.UserID
			}
			if userID == "" {
				return fmt.Errorf("no user: pass --user or set user_id")
			}

			a, err := newApp(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.engine == nil {
				return errSyncDisabled
			}

			report, err := a.engine.Sync(cmd.Context(), userID)
			fmt.Fprintf(cmd.OutOrStdout(), "pushed=%d cleared=%d conflicts=%d pulled=%d pages=%d\n",
				report.Push.Sent, report.Push.Cleared, report.Push.Conflicts,
				report.Pull.Applied, report.Pull.Pages)
			if err != nil {
				return fmt.Errorf("sync pending: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user whose ledger is synchronized (default: user_id from config)")

	return cmd
}
