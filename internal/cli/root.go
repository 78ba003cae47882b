// Package cli wires the taskhive command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "taskhive",
		Short:        "Taskhive — model-driven task execution with risk gating",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override Taskhive home directory (default: ~/.taskhive, env: TASKHIVE_HOME)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newApprovalsCmd())
	cmd.AddCommand(newMetricsCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
