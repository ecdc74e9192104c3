package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/diyartec/calassist/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Administer stored sessions",
	}

	var sid, sub string
	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Delete one session or every session of a user",
		Long: `Delete sessions directly in the configured store (REDIS_URL or
VALKEY_URL). Use --sid for a single session or --sub to remove every session
of a Google subject id.

With neither variable set the gateway keeps sessions in process memory and
there is nothing this command can reach.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sid == "") == (sub == "") {
				return errors.New("exactly one of --sid or --sub is required")
			}
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cfg.SharedStoreURL() {
				return errors.New("no shared session store configured")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			kv, _, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = kv.Close() }()

			return invalidateSessions(ctx, cmd.OutOrStdout(), session.NewRepository(kv, keyspace(cfg)), sid, sub)
		},
	}
	invalidate.Flags().StringVar(&sid, "sid", "", "Session id to delete")
	invalidate.Flags().StringVar(&sub, "sub", "", "Google subject id whose sessions are deleted")

	cmd.AddCommand(invalidate)
	return cmd
}

func invalidateSessions(ctx context.Context, w io.Writer, repo *session.Repository, sid, sub string) error {
	if sid != "" {
		if err := repo.Delete(ctx, sid); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		fmt.Fprintln(w, "deleted 1 session")
		return nil
	}
	n, err := repo.DeleteBySubject(ctx, sub)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %d session(s)\n", n)
	return nil
}
