package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "phasekit",
		Short: "phasekit - deployment workflow generator and failure advisor",
		Long: `phasekit turns workflow definitions into orchestration workflows: forward
deployment phases built from step templates, a rollback phase for every
forward phase, failure strategies and notification rules.

At execution time it advises what to do after each state transition:
retry, roll back, pause for manual intervention or continue.

Features:
  - Workflow definitions in CUE or YAML
  - Step property overlays in Starlark
  - Policy checks over generated workflows (OPA/Rego)
  - SQLite store for workflows, attempts, interrupts and instances`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./phasekit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newAdviseCommand())
	rootCmd.AddCommand(newInterruptCommand())
	rootCmd.AddCommand(newAttemptCommand())

	return rootCmd
}
