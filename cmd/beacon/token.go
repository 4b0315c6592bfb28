package main

import (
	"fmt"
	"time"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token SUBJECT",
	Short: "Issue a subscriber token signed with auth_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		roles, _ := cmd.Flags().GetStringSlice("role")

		if secret == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			secret = cfg.AuthSecret
		}
		if secret == "" {
			return fmt.Errorf("no secret: pass --secret or configure auth_secret")
		}

		token, err := auth.Issue(secret, args[0], ttl, roles...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "HS256 secret (defaults to auth_secret from config)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringSlice("role", nil, "Role claim, repeatable")
}
