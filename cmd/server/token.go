package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/ledgersync/internal/auth"
)

var errNoJWTSecret = errors.New("no JWT secret: set auth.jwt_secret or LEDGER_JWT_SECRET")

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var userID, deviceID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Auth.JWTSecret == "" {
				return errNoJWTSecret
			}
			if userID == "" {
				userID = opts.cfg.UserID
			}
			if deviceID == "" {
				deviceID = opts.cfg.DeviceID
			}

			manager := auth.NewJWTManager(opts.cfg.Auth.JWTSecret, opts.cfg.Auth.TokenTTL)
			token, err := manager.Generate(userID, deviceID)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to embed (default: user_id from config)")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id to embed (default: device_id from config)")

	return cmd
}
