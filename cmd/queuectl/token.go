package main

import (
	"fmt"
	"time"

	"terraintake/internal/config"
	"terraintake/internal/util"

	"github.com/spf13/cobra"
)

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		subject string
		staff   bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the operator API",
		Long:  "Signs a token with SECRET_KEY. Operator routes only accept tokens minted with --staff.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.TokenExpiryMinutes) * time.Minute
			}
			token, err := util.GenerateToken(subject, staff, cfg.Auth.SecretKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identifier recorded in audit logs")
	cmd.Flags().BoolVar(&staff, "staff", true, "grant operator access")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to ACCESS_TOKEN_EXPIRE_MINUTES)")
	return cmd
}
