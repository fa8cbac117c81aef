package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/planning-ingest/internal/config"
	"github.com/jonathan/planning-ingest/internal/server"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue an API token for an operator",
		Long:  "Signs a bearer token with JWT_SECRET for use against the API server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewJWTConfig()
			if err != nil {
				return err
			}
			token, err := server.NewJWTService(cfg).GenerateToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}
