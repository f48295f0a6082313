package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sessionmux-core/internal/session"
	"sessionmux-core/internal/session/model"
)

func newSessionsCommand(a *app) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and delete cached sessions",
	}

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List locally cached session records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			srv, err := a.build(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer srv.Stop(context.Background())

			records, err := srv.Store().ListAll(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	})

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <owner:device>",
		Short: "Delete a session everywhere: local cache, device settings and remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := model.ParseKey(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			srv, err := a.build(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer srv.Stop(context.Background())

			out := cmd.OutOrStdout()
			return srv.Manager().Delete(cmd.Context(), key, func(status session.Status, detail string) {
				if detail != "" {
					fmt.Fprintf(out, "%s %s (%s)\n", key, liveStatus(status), detail)
					return
				}
				fmt.Fprintf(out, "%s %s\n", key, liveStatus(status))
			})
		},
	})

	return sessionsCmd
}
