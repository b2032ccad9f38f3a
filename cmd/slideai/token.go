package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Majboor/smart-presentation-builder/internal/config"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

var (
	tokenUserID string
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a login token signed with JWT_SECRET (for local testing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID == "" {
			return errors.New("--user is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		issuer := identity.NewIssuer(identity.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}, tokenTTL)
		token, err := issuer.Issue(tokenUserID, tokenEmail)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id (sub claim)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
