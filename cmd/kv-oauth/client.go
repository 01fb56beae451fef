package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage"
)

func newClientCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Register and manage OAuth clients",
	}
	cmd.AddCommand(
		newClientCreateCommand(a),
		newClientListCommand(a),
		newClientUpdateCommand(a),
		newClientRegenerateCommand(a),
		newClientTrustCommand(a),
	)
	return cmd
}

func newClientCreateCommand(a *app) *cobra.Command {
	var owner, name, redirectURI string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client and print its secret once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServer(func(srv *server.Server) error {
				client, secret, err := srv.Clients.Create(cmd.Context(), owner, name, redirectURI)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "client_id:     %s\n", client.ID)
				fmt.Fprintf(out, "client_secret: %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "ID of the user registering the client")
	cmd.Flags().StringVar(&name, "name", "", "human readable client name")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "the single registered redirect URI")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

func newClientListCommand(a *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the clients registered by an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withServer(func(srv *server.Server) error {
				clients, err := srv.Clients.ListByOwner(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return printClients(cmd.OutOrStdout(), clients)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user ID")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newClientUpdateCommand(a *app) *cobra.Command {
	var name, redirectURI string

	cmd := &cobra.Command{
		Use:   "update CLIENT_ID",
		Short: "Change a client's name or redirect URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && redirectURI == "" {
				return fmt.Errorf("nothing to update: set --name or --redirect-uri")
			}
			return a.withServer(func(srv *server.Server) error {
				if name != "" {
					if err := srv.Clients.UpdateName(cmd.Context(), args[0], name); err != nil {
						return err
					}
				}
				if redirectURI != "" {
					if err := srv.Clients.UpdateRedirectURI(cmd.Context(), args[0], redirectURI); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new client name")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "new redirect URI")
	return cmd
}

func newClientRegenerateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate-secret CLIENT_ID",
		Short: "Replace a client's secret and print the new one once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServer(func(srv *server.Server) error {
				_, secret, err := srv.Clients.RegenerateSecret(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "client_secret: %s\n", secret)
				return nil
			})
		},
	}
}

func newClientTrustCommand(a *app) *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "trust CLIENT_ID",
		Short: "Mark a client as trusted so it skips the consent prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServer(func(srv *server.Server) error {
				return srv.Clients.SetTrusted(cmd.Context(), args[0], !revoke)
			})
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "remove trust instead")
	return cmd
}

func printClients(w io.Writer, clients []*storage.Client) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREDIRECT URI\tTRUSTED\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			c.ID, c.Name, c.RedirectURI, c.Trusted, c.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
