package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joestump/joe-sources/internal/auth"
	"github.com/joestump/joe-sources/internal/config"
	"github.com/joestump/joe-sources/internal/db"
)

// newTokenCmd manages API tokens directly against the registry database, so
// the first token can be issued before the server has any.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenCreateCmd(), newTokenListCmd(), newTokenRevokeCmd())
	return cmd
}

func openTokenStore() (*auth.SQLTokenStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database, cfg.DB.Driver); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return auth.NewSQLTokenStore(database), func() { _ = database.Close() }, nil
}

func newTokenCreateCmd() *cobra.Command {
	var (
		name    string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token and print its plaintext once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ts, done, err := openTokenStore()
			if err != nil {
				return err
			}
			defer done()

			var expiresAt *time.Time
			if expires > 0 {
				t := time.Now().UTC().Add(expires)
				expiresAt = &t
			}
			plaintext, hash, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			rec, err := ts.Create(cmd.Context(), name, hash, expiresAt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", rec.ID, plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "token name")
	cmd.Flags().DurationVar(&expires, "expires", 0, "lifetime, e.g. 720h (default: never)")
	return cmd
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, done, err := openTokenStore()
			if err != nil {
				return err
			}
			defer done()

			recs, err := ts.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED\tSTATUS")
			now := time.Now()
			for _, r := range recs {
				status := "active"
				switch {
				case r.RevokedAt.Valid:
					status = "revoked"
				case !r.Usable(now):
					status = "expired"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.CreatedAt.Format(time.RFC3339), status)
			}
			return tw.Flush()
		},
	}
}

func newTokenRevokeCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			ts, done, err := openTokenStore()
			if err != nil {
				return err
			}
			defer done()

			if err := ts.Revoke(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "token id")
	return cmd
}
