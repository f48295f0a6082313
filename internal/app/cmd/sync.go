package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sessionmux-core/internal/app/server"
	coreerrors "sessionmux-core/internal/core/errors"
)

func newSyncCommand(a *app) *cobra.Command {
	var asJSON bool

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local cache with the remote store",
	}
	syncCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	syncCmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Upsert every locally cached session into the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd.Context(), func(ctx context.Context, srv *server.Server) error {
				res := srv.Store().PushAllToRemote(ctx)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s synced=%d failed=%s\n",
					colorSuccess("push"), res.Synced, failedCount(res.Failed))
				return nil
			})
		},
	})

	syncCmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Replace the local cache with this instance's remote records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd.Context(), func(ctx context.Context, srv *server.Server) error {
				res, err := srv.Store().RestoreAllFromRemote(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s restored=%d total=%d\n",
					colorSuccess("restore"), res.Restored, res.Total)
				return nil
			})
		},
	})

	return syncCmd
}

// withRemote 构建服务器（不启动会话）并要求远端已启用
func (a *app) withRemote(ctx context.Context, fn func(context.Context, *server.Server) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	srv, err := a.build(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer srv.Stop(context.Background())

	if !srv.Store().RemoteEnabled() {
		return coreerrors.New(coreerrors.CodeConfigError, "remote store is disabled; set storage.postgres.enabled")
	}
	return fn(ctx, srv)
}

func failedCount(n int) string {
	if n > 0 {
		return colorError(fmt.Sprint(n))
	}
	return fmt.Sprint(n)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
