package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/stores"
)

func newInterruptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interrupt",
		Short: "Manage execution interrupts",
		Long: `Raise and clear operator interrupts against an execution.

Pending interrupts are read by "phasekit advise":
  - ABORT_ALL ends the execution on the next event
  - ROLLBACK marks an on-demand rollback; further failures end the execution`,
	}

	cmd.AddCommand(newInterruptAddCommand())
	cmd.AddCommand(newInterruptClearCommand())
	cmd.AddCommand(newInterruptListCommand())

	return cmd
}

func newInterruptAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add <execution-id> <type>",
		Short:   "Raise an interrupt",
		Example: `  phasekit interrupt add exec-1 ABORT_ALL`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}

			in := &engine.Interrupt{
				ExecutionID: args[0],
				Type:        engine.ExecutionInterruptType(strings.ToUpper(args[1])),
			}
			if err := store.AddInterrupt(ctx, in); err != nil {
				return err
			}
			_ = env.tel.Events.PublishInterruptRaised(in.ExecutionID, string(in.Type))
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added %s interrupt %s to %s\n", in.Type, in.ID, in.ExecutionID)
			return nil
		},
	}
}

func newInterruptClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <execution-id> [type]",
		Short: "Clear pending interrupts",
		Example: `  # Clear every pending interrupt
  phasekit interrupt clear exec-1

  # Clear only pauses
  phasekit interrupt clear exec-1 PAUSE_ALL`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}

			var t engine.ExecutionInterruptType
			if len(args) == 2 {
				t = engine.ExecutionInterruptType(strings.ToUpper(args[1]))
				if err := t.Validate(); err != nil {
					return err
				}
			}
			n, err := store.ClearInterrupts(ctx, args[0], t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %d interrupt(s) of %s\n", n, args[0])
			return nil
		},
	}
}

func newInterruptListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <execution-id>",
		Short: "List pending interrupts as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			pending, err := store.PendingInterrupts(ctx, args[0])
			if err != nil {
				return err
			}
			if pending == nil {
				pending = []engine.Interrupt{}
			}
			return printJSON(cmd.OutOrStdout(), pending)
		},
	}
}

func newAttemptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempt",
		Short: "Record and list state attempts",
		Long: `Record the attempts of a state. "phasekit advise" counts them to decide
whether a RETRY strategy still has retries left and how long to wait.`,
	}

	cmd.AddCommand(newAttemptRecordCommand())
	cmd.AddCommand(newAttemptListCommand())

	return cmd
}

func newAttemptRecordCommand() *cobra.Command {
	var (
		status  string
		message string
	)

	cmd := &cobra.Command{
		Use:     "record <execution-id> <state-id>",
		Short:   "Record an attempt of a state",
		Example: `  phasekit attempt record exec-1 4c2a... --status FAILED --message "health check timed out"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}

			a := &stores.Attempt{
				ExecutionID: args[0],
				StateID:     args[1],
				Status:      engine.ExecutionStatus(strings.ToUpper(status)),
				Message:     message,
			}
			if err := store.RecordAttempt(ctx, a); err != nil {
				return err
			}
			n, err := store.AttemptCount(ctx, a.ExecutionID, a.StateID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded attempt %d of %s (%s)\n", n, a.StateID, a.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(engine.StatusFailed), "status of the attempt")
	cmd.Flags().StringVar(&message, "message", "", "free-form message")

	return cmd
}

func newAttemptListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <execution-id>",
		Short: "List the attempts of an execution as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer env.close(ctx)

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			list, err := store.ListAttempts(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}
