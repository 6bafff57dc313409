package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/telemetry"
)

func newAdviseCommand() *cobra.Command {
	var (
		workflowID string
		eventPath  string
	)

	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Evaluate an execution event against a stored workflow",
		Long: `Evaluate one execution event against a stored workflow and print the advice
as JSON, or null when the execution should simply continue.

The event is a JSON document such as:

  {
    "executionId": "exec-1",
    "stateId": "<phase-step id>",
    "stateType": "PHASE_STEP",
    "status": "FAILED",
    "failureTypes": ["VERIFICATION_FAILURE"]
  }

Pending interrupts, recorded attempts and the instance inventory are read
from the store; phase status changes are logged to it and published as
events.`,
		Example: `  # Advise on an event file
  phasekit advise --workflow 6f1c... --event event.json

  # Read the event from stdin
  echo '{"executionId":"exec-1",...}' | phasekit advise --workflow 6f1c... --event -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			ev, err := readEvent(cmd.InOrStdin(), eventPath)
			if err != nil {
				return err
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			ctx = env.tel.WithContext(ctx)
			ctx = telemetry.WithExecutionContext(ctx, ev.ExecutionID, workflowID)
			op := telemetry.StartOperation(ctx, "cli.advise")
			defer func() { op.End(err) }()
			ctx = op.Ctx

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			if ev.Workflow, err = store.GetWorkflow(ctx, workflowID); err != nil {
				return err
			}

			advisor := engine.NewAdvisor(
				engine.WithLogger(env.logger("advisor")),
				engine.WithInterruptSource(store),
				engine.WithAttemptHistory(store),
				engine.WithNotificationSink(engine.NotificationSinks{store, engine.NewEventNotifier(env.tel.Events)}),
				engine.WithInstanceExtractor(store),
				engine.WithInstanceSelector(store),
				engine.WithMetrics(env.tel.Metrics),
				engine.WithTracer(env.tel.Tracer),
			)

			advice, err := advisor.OnExecutionEvent(ctx, ev)
			if err != nil {
				return err
			}

			op.Logger.WithField("duration", op.Timer.Duration().String()).Debug("Advice computed")
			if advice != nil {
				_ = env.tel.Events.PublishAdviceIssued(ev.ExecutionID, ev.StateID, string(advice.InterruptType), advice.NextStateName)
			}
			return printJSON(cmd.OutOrStdout(), advice)
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "ID of the stored workflow")
	cmd.Flags().StringVar(&eventPath, "event", "-", "event JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}

func readEvent(stdin io.Reader, path string) (*engine.ExecutionEvent, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}

	ev := &engine.ExecutionEvent{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if ev.ExecutionID == "" || ev.StateID == "" {
		return nil, fmt.Errorf("event requires executionId and stateId")
	}
	return ev, nil
}
