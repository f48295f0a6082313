package cmd

import (
	"github.com/spf13/cobra"

	"sessionmux-core/internal/config/source"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			srv, err := a.build(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			if isTerminal(cmd.OutOrStdout()) {
				srv.PrintBanner(cmd.OutOrStdout(), source.FindConfigFile(a.configFile))
			}
			return srv.Run(cmd.Context())
		},
	}
}
