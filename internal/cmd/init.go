package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eventdesk/chatrelay/internal/wizard"
	"github.com/eventdesk/chatrelay/pkg/cli"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			defaults, _ := cmd.Flags().GetBool("defaults")

			p := cli.DefaultPrompter()
			p.Out = cmd.OutOrStdout()
			w := wizard.New(p)
			if defaults {
				return w.RunDefaults(output)
			}
			return w.Run(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./chatrelay.json)")
	cmd.Flags().Bool("defaults", false, "generate config non-interactively using env vars and secure defaults")
	return cmd
}
