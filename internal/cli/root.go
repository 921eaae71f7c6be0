// Package cli implements the coral-profiler command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-profiler/pkg/version"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "coral-profiler",
		Short: "Coral profiler - follow a device process and keep a profiling session on it",
		Long: `coral-profiler polls a profiler transport service for devices and
processes, keeps a profiling session bound to the selected process and
reports every selection, session, agent and stage change.

Configuration is read from --config, $CORAL_PROFILER_CONFIG or
~/.coral/profiler.yaml, in that order. CORAL_PROFILER_* environment
variables override file values and flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(cmd)

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newSimulateCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("coral-profiler version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
