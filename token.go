package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blogem/cmdb/authenticator"
	"github.com/blogem/cmdb/config"
)

var (
	tokenGroups []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for an API client",
	Long:  "Sign a bearer token with auth.jwt_secret. The subject is recorded as updated_by on every change the client makes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		verifier, err := authenticator.NewJWTVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
		token, err := verifier.Issue(args[0], tokenGroups, tokenTTL)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVarP(&tokenGroups, "groups", "g", nil, "groups carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 90*24*time.Hour, "token lifetime")
}
