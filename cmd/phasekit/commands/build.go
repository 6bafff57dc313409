package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/phasekit/pkg/engine"
)

func newBuildCommand() *cobra.Command {
	var (
		environmentName string
		save            bool
	)

	cmd := &cobra.Command{
		Use:   "build <definition>",
		Short: "Generate the orchestration workflow of a definition",
		Long: `Generate the orchestration workflow of a definition and print it as JSON.

The workflow passes the policy gate before it is printed. With --save it is
also stored so that "phasekit advise" can evaluate execution events against it.`,
		Example: `  # Print the generated workflow
  phasekit build ./workflow.cue

  # Generate and store it
  phasekit build --save ./workflow.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			def, err := loadDefinition(ctx, cmd.ErrOrStderr(), args[0])
			if err != nil {
				return err
			}
			wf, err := env.build(ctx, def)
			if err != nil {
				return err
			}

			result, err := env.checkPolicy(ctx, wf, "build", environmentName)
			printViolations(cmd.ErrOrStderr(), result)
			if err != nil {
				return err
			}

			if save {
				store, err := env.openStore(ctx)
				if err != nil {
					return err
				}
				if err := store.SaveWorkflow(ctx, wf, 0); err != nil {
					return err
				}
				if all, err := store.ListWorkflows(ctx, 0, 0); err == nil {
					env.tel.Metrics.SetWorkflowCount(float64(len(all)))
				}
				log.Info().
					Str("workflow_id", wf.ID).
					Int64("version", wf.Version).
					Msg("Workflow saved")
			}

			return printJSON(cmd.OutOrStdout(), wf)
		},
	}

	cmd.Flags().StringVar(&environmentName, "environment", "", "target environment passed to policies")
	cmd.Flags().BoolVar(&save, "save", false, "store the generated workflow")

	return cmd
}

func newGraphCommand() *cobra.Command {
	var workflowID string

	cmd := &cobra.Command{
		Use:   "graph [definition]",
		Short: "Print the execution graph of a workflow in DOT format",
		Long: `Print the execution graph of a workflow in Graphviz DOT format.

The graph shows pre-deployment, every forward phase and its phase-steps,
post-deployment and the rollback phases guarding each forward phase.`,
		Example: `  # Render a definition
  phasekit graph ./workflow.cue | dot -Tsvg > workflow.svg

  # Render a stored workflow
  phasekit graph --workflow 6f1c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (len(args) == 0) == (workflowID == "") {
				return fmt.Errorf("either a definition or --workflow is required")
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			var wf *engine.OrchestrationWorkflow
			if workflowID != "" {
				store, err := env.openStore(ctx)
				if err != nil {
					return err
				}
				if wf, err = store.GetWorkflow(ctx, workflowID); err != nil {
					return err
				}
			} else {
				def, err := loadDefinition(ctx, cmd.ErrOrStderr(), args[0])
				if err != nil {
					return err
				}
				if wf, err = env.build(ctx, def); err != nil {
					return err
				}
			}

			graph, err := engine.BuildExecutionGraph(wf)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "ID of a stored workflow")

	return cmd
}
