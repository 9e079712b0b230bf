package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the bidhouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bidhouse",
		Short: "bidhouse - marketplace account service",
		Long: `bidhouse runs the account identity API of the marketplace:
registration with emailed codes, verification, password reset, sessions
and operator account administration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewOperatorCmd())

	return cmd
}
