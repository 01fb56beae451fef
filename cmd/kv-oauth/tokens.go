package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/kv-oauth/server"
)

func newTokensCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage issued tokens",
	}

	var userID, clientID string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke every token of a user, or of one user and client pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServer(func(srv *server.Server) error {
				var (
					n   int
					err error
				)
				if clientID != "" {
					n, err = srv.RevokePair(cmd.Context(), userID, clientID, "operator")
				} else {
					n, err = srv.RevokeUserTokens(cmd.Context(), userID)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d token(s)\n", n)
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&userID, "user", "", "user ID")
	revoke.Flags().StringVar(&clientID, "client", "", "limit revocation to this client")
	_ = revoke.MarkFlagRequired("user")

	cmd.AddCommand(revoke)
	return cmd
}
