package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		environmentName string
		watch           bool
	)

	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Validate a workflow definition",
		Long: `Validate a workflow definition and the workflow generated from it.

This command checks:
  - CUE or YAML syntax and schema conformance
  - Field constraints such as the after-retry repair action
  - That every phase can be generated from the service catalog
  - Policy compliance of the generated workflow (OPA/Rego)

With --watch the command keeps running and validates again whenever a file
under the configured policy paths changes.`,
		Example: `  # Validate a CUE definition
  phasekit validate ./workflow.cue

  # Validate against production policies
  phasekit validate --environment production ./workflow.yaml

  # Revalidate while editing policies
  phasekit validate --watch ./workflow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if !watch {
				return validateDefinition(ctx, out, env, args[0], environmentName)
			}
			return watchDefinition(ctx, out, env, args[0], environmentName)
		},
	}

	cmd.Flags().StringVar(&environmentName, "environment", "", "target environment passed to policies")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "revalidate when a policy file changes")

	return cmd
}

func validateDefinition(ctx context.Context, out io.Writer, env *environment, path, environmentName string) error {
	def, err := loadDefinition(ctx, out, path)
	if err != nil {
		return err
	}
	wf, err := env.build(ctx, def)
	if err != nil {
		return err
	}

	result, err := env.checkPolicy(ctx, wf, "validate", environmentName)
	printViolations(out, result)
	if err != nil {
		return err
	}

	log.Debug().
		Str("workflow_id", wf.ID).
		Str("definition", path).
		Msg("Definition validated")

	fmt.Fprintf(out, "✓ %s is valid: %d phase(s), %d rollback phase(s)\n",
		path, len(wf.Phases), len(wf.RollbackByForwardPhaseID))
	return nil
}

// watchDefinition validates once, then again after every policy reload,
// until ctx is done. Validation failures are reported and do not stop it.
func watchDefinition(ctx context.Context, out io.Writer, env *environment, path, environmentName string) error {
	if !env.cfg.Policy.Enabled || len(env.cfg.Policy.Paths) == 0 {
		return errors.New("--watch needs policy enabled with at least one policy path")
	}

	eng, err := env.policyEngine(ctx)
	if err != nil {
		return err
	}

	reloaded := make(chan struct{}, 1)
	err = eng.Watch(ctx, env.cfg.Policy.Paths, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch policies: %w", err)
	}

	for {
		if err := validateDefinition(ctx, out, env, path, environmentName); err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-reloaded:
			log.Debug().Str("definition", path).Msg("Policies reloaded, revalidating")
			fmt.Fprintln(out, "Policies changed, revalidating")
		}
	}
}
