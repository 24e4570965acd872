// Package cmd implements the chatrelay command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for chatrelay.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Real-time chat relay between site visitors and support agents",
		Long:  "chatrelay accepts WebSocket connections from site visitors and staff dashboards and relays messages, typing indicators, read receipts and agent presence between them.",
		// Bare invocation (no subcommand) behaves as "run".
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
