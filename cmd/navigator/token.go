package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/breatheroute/navcore/internal/auth"
)

func newTokenCmd(opts *options) *cobra.Command {
	var (
		deviceID string
		scopes   []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a device access token",
		Long: `token signs an access token for a device with the configured auth settings. Use the
navigation scope for devices that report fixes and the admin scope for operators.`,
		Example: `  navigator token --device dev_42
  navigator token --device ops --scope admin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			jwtService := auth.NewJWTService(auth.JWTConfig{
				SigningKey: cfg.Auth.SigningKey,
				Issuer:     cfg.Auth.Issuer,
				Audience:   cfg.Auth.Audience,
				TTL:        cfg.Auth.TokenTTL,
			})
			token, expiresAt, err := jwtService.GenerateAccessToken(deviceID, scopes...)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "device ID the token is issued to")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeNavigation}, "granted scopes")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}
