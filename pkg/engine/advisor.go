package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

const (
	rollingPhaseDisplay  = "Rolling Phase"
	rollbackPhaseDisplay = "Rollback Phase"

	collaboratorInterrupts = "interrupt_source"
	collaboratorNotifier   = "notification_sink"
	collaboratorExtractor  = "instance_extractor"
	collaboratorAttempts   = "attempt_history"
	collaboratorSelector   = "instance_selector"
)

// Advisor decides what the execution engine does next after a state of a
// workflow execution changes status. It holds no per-execution state; every
// decision is derived from the event, the workflow and the collaborators.
type Advisor struct {
	resolver   *Resolver
	interrupts InterruptSource
	attempts   AttemptHistory
	notifier   NotificationSink
	extractor  InstanceExtractor
	selector   InstanceSelector
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
}

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor)

// WithLogger sets the advisor logger.
func WithLogger(logger zerolog.Logger) AdvisorOption {
	return func(a *Advisor) { a.logger = logger }
}

// WithInterruptSource sets where pending interrupts are read from.
func WithInterruptSource(s InterruptSource) AdvisorOption {
	return func(a *Advisor) { a.interrupts = s }
}

// WithAttemptHistory sets the attempt counter used for RETRY accounting.
func WithAttemptHistory(h AttemptHistory) AdvisorOption {
	return func(a *Advisor) { a.attempts = h }
}

// WithNotificationSink sets the receiver of phase status changes.
func WithNotificationSink(s NotificationSink) AdvisorOption {
	return func(a *Advisor) { a.notifier = s }
}

// WithInstanceExtractor sets the recorder of deployed instances.
func WithInstanceExtractor(e InstanceExtractor) AdvisorOption {
	return func(a *Advisor) { a.extractor = e }
}

// WithInstanceSelector sets the rolling-deployment instance selector.
func WithInstanceSelector(s InstanceSelector) AdvisorOption {
	return func(a *Advisor) { a.selector = s }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) AdvisorOption {
	return func(a *Advisor) { a.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) AdvisorOption {
	return func(a *Advisor) { a.tracer = t }
}

// NewAdvisor creates an advisor. Collaborators that are not configured are
// treated as empty: no interrupts, no attempts, no remaining instances.
func NewAdvisor(opts ...AdvisorOption) *Advisor {
	a := &Advisor{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	a.resolver = NewResolver(a.logger)
	return a
}

// OnExecutionEvent returns the advice for an execution event. A nil advice
// means the engine proceeds with its default behavior.
func (a *Advisor) OnExecutionEvent(ctx context.Context, ev *ExecutionEvent) (advice *ExecutionEventAdvice, err error) {
	start := time.Now()
	if ev == nil || ev.Workflow == nil {
		return nil, NewPermanentError("event with workflow is required", nil).
			WithCode(ErrCodeValidation).WithOperation("advise")
	}

	ctx, span := a.tracer.StartAdviceSpan(ctx, ev.ExecutionID, ev.StateID)
	span.SetAttributes(
		telemetry.AttrWorkflowID.String(ev.Workflow.ID),
		telemetry.AttrStateStatus.String(string(ev.Status)),
	)
	defer func() {
		outcome := "NONE"
		switch {
		case err != nil:
			outcome = "ERROR"
		case advice != nil:
			outcome = string(advice.InterruptType)
			span.SetAttributes(telemetry.AttrInterruptType.String(outcome))
		}
		a.metrics.RecordAdvice(outcome, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	advice, err = a.advise(ctx, ev, ev.Workflow)
	if err != nil {
		a.metrics.RecordError(string(ClassOf(err)), ErrorCode(err))
		a.logger.Error().Err(err).
			Str("execution_id", ev.ExecutionID).
			Str("state_id", ev.StateID).
			Msg("Failed to compute execution advice")
		return nil, err
	}
	if advice != nil {
		a.logger.Info().
			Str("execution_id", ev.ExecutionID).
			Str("state_id", ev.StateID).
			Str("status", string(ev.Status)).
			Str("advice", string(advice.InterruptType)).
			Str("next_state", advice.NextStateName).
			Msg("Execution advice issued")
	}
	return advice, nil
}

func (a *Advisor) advise(ctx context.Context, ev *ExecutionEvent, wf *OrchestrationWorkflow) (*ExecutionEventAdvice, error) {
	interrupts := a.pendingInterrupts(ctx, ev)
	if hasInterrupt(interrupts, InterruptAbortAll) {
		return &ExecutionEventAdvice{InterruptType: InterruptEndExecution}, nil
	}

	var phase *WorkflowPhase
	if ev.StateType == StateTypePhase {
		phase = wf.Phase(ev.StateID)
	}
	var phaseStep *PhaseStep
	if ev.StateType == StateTypePhaseStep {
		phaseStep = wf.PhaseStep(ev.StateID)
	}

	if wf.Topology == TopologyRolling && phaseStep != nil && phaseStep.Type == PhaseStepPreDeployment &&
		ev.Status == StatusSuccess && len(wf.Phases) > 0 {
		return &ExecutionEventAdvice{
			InterruptType:        InterruptNextStep,
			NextStateName:        wf.Phases[0].Name,
			NextStateDisplayName: rollingDisplayName(1),
		}, nil
	}

	if phase != nil {
		a.notify(ctx, ev, phase)
		if !phase.Rollback {
			if ev.Status == StatusSuccess {
				a.extract(ctx, ev, phase)
				if wf.Topology == TopologyRolling {
					if adv := a.nextRollingIteration(ctx, ev, wf, phase); adv != nil {
						return adv, nil
					}
				}
			}
			if !ev.Status.IsNegative() {
				return nil, nil
			}
		} else if ev.Status != StatusSuccess {
			return nil, nil
		}
	}

	// A failed pre-deployment has nothing to undo unless provisioners ran.
	if phaseStep != nil && phaseStep.Type == PhaseStepPreDeployment && ev.Status == StatusFailed {
		if !wf.HasProvisioners() || wf.RollbackProvisioners == nil {
			return nil, nil
		}
		return rollbackAdvice(wf.RollbackProvisioners.Name, ""), nil
	}

	if phaseStep != nil && phaseStep.Type == PhaseStepRollbackProvisioners && ev.Status == StatusSuccess {
		return a.afterProvisionersRollback(ev, wf)
	}

	if phase == nil {
		if !ev.Status.IsNegative() {
			return nil, nil
		}
		if hasInterrupt(interrupts, InterruptRollback) {
			return &ExecutionEventAdvice{InterruptType: InterruptEndExecution}, nil
		}
	} else if hasInterrupt(interrupts, InterruptRollback) {
		return a.rollbackWorkflow(ev, wf, phase)
	}

	strategy, err := a.resolver.Resolve(ev, wf)
	if err != nil || strategy == nil {
		return nil, err
	}
	return a.applyRepair(ctx, ev, wf, strategy, strategy.RepairActionCode, false)
}

// applyRepair maps a repair action to advice. afterRetry is set when the
// action is the strategy's after-retry code.
func (a *Advisor) applyRepair(ctx context.Context, ev *ExecutionEvent, wf *OrchestrationWorkflow,
	strategy *FailureStrategy, code RepairActionCode, afterRetry bool) (*ExecutionEventAdvice, error) {
	switch code {
	case "":
		return nil, nil

	case RepairIgnore:
		return &ExecutionEventAdvice{InterruptType: InterruptIgnore}, nil

	case RepairEndExecution:
		return &ExecutionEventAdvice{InterruptType: InterruptEndExecution}, nil

	case RepairAbortWorkflowExecution:
		return &ExecutionEventAdvice{
			InterruptType:      InterruptEndExecution,
			RequestedInterrupt: InterruptAbortAll,
		}, nil

	case RepairManualIntervention:
		if ev.StateType.IsComposite() {
			return nil, nil
		}
		return &ExecutionEventAdvice{
			InterruptType: InterruptPause,
			StateParams:   manualInterventionParams(ev, wf),
		}, nil

	case RepairRollbackPhase:
		phase := enclosingPhase(ev, wf)
		if phase == nil {
			return nil, nil
		}
		if phase.Rollback {
			return &ExecutionEventAdvice{InterruptType: InterruptRollbackDone}, nil
		}
		rb, err := wf.RollbackPhaseFor(phase.ID)
		if err != nil {
			return nil, err
		}
		adv := rollbackAdvice(rb.Name, "")
		if wf.Topology == TopologyRolling {
			adv.NextStateDisplayName = rollbackDisplayName(rollingIndex(ev.DisplayName, rollingPhaseDisplay, 1))
		}
		return adv, nil

	case RepairRollbackWorkflow:
		phase := enclosingPhase(ev, wf)
		if phase == nil {
			return nil, nil
		}
		return a.rollbackWorkflow(ev, wf, phase)

	case RepairRetry:
		if afterRetry {
			return nil, NewInvariantError("after-retry repair action cannot be RETRY", nil).
				WithResource(ev.StateID).WithOperation("apply_repair")
		}
		if ev.StateType.IsComposite() {
			return a.applyRepair(ctx, ev, wf, strategy, strategy.RepairActionCodeAfterRetry, true)
		}
		attempts := a.attemptCount(ctx, ev)
		if attempts < strategy.RetryCount {
			return &ExecutionEventAdvice{
				InterruptType:       InterruptRetry,
				WaitIntervalSeconds: retryWait(strategy.RetryIntervals, attempts),
			}, nil
		}
		a.logger.Debug().
			Str("execution_id", ev.ExecutionID).
			Str("state_id", ev.StateID).
			Int("attempts", attempts).
			Msg("Retries exhausted, applying after-retry action")
		return a.applyRepair(ctx, ev, wf, strategy, strategy.RepairActionCodeAfterRetry, true)

	default:
		return nil, NewInvariantError(fmt.Sprintf("unknown repair action %q", code), nil).
			WithResource(ev.StateID).WithOperation("apply_repair")
	}
}

// rollbackWorkflow computes the next link of the rollback chain from the given phase.
func (a *Advisor) rollbackWorkflow(ev *ExecutionEvent, wf *OrchestrationWorkflow, phase *WorkflowPhase) (*ExecutionEventAdvice, error) {
	rolling := wf.Topology == TopologyRolling

	if !phase.Rollback {
		if wf.RollbackProvisioners != nil && len(wf.RollbackProvisioners.Steps) > 0 {
			return rollbackAdvice(wf.RollbackProvisioners.Name, ""), nil
		}
		rb, err := wf.RollbackPhaseFor(phase.ID)
		if err != nil {
			return nil, err
		}
		adv := rollbackAdvice(rb.Name, "")
		if rolling {
			adv.NextStateDisplayName = rollbackDisplayName(rollingIndex(ev.DisplayName, rollingPhaseDisplay, 1))
		}
		return adv, nil
	}

	if rolling {
		n := rollingIndex(ev.DisplayName, rollbackPhaseDisplay, 1) - 1
		if n < 1 {
			return &ExecutionEventAdvice{InterruptType: InterruptRollbackDone}, nil
		}
		return rollbackAdvice(phase.Name, rollbackDisplayName(n)), nil
	}

	i := wf.ForwardPhaseIndex(phase.RollbackOfPhaseID)
	if i < 0 {
		return nil, NewInvariantError("rollback phase refers to unknown forward phase", nil).
			WithResource(phase.ID).WithDetail("rollback_of", phase.RollbackOfPhaseID)
	}
	if i == 0 {
		return &ExecutionEventAdvice{InterruptType: InterruptRollbackDone}, nil
	}
	rb, err := wf.RollbackPhaseFor(wf.Phases[i-1].ID)
	if err != nil {
		return nil, err
	}
	return rollbackAdvice(rb.Name, ""), nil
}

// afterProvisionersRollback continues with the rollback of the last forward
// phase that executed.
func (a *Advisor) afterProvisionersRollback(ev *ExecutionEvent, wf *OrchestrationWorkflow) (*ExecutionEventAdvice, error) {
	for i := len(ev.ExecutedPhaseIDs) - 1; i >= 0; i-- {
		id := ev.ExecutedPhaseIDs[i]
		if wf.ForwardPhaseIndex(id) < 0 {
			continue
		}
		rb, err := wf.RollbackPhaseFor(id)
		if err != nil {
			return nil, err
		}
		return rollbackAdvice(rb.Name, ""), nil
	}
	return &ExecutionEventAdvice{InterruptType: InterruptRollbackDone}, nil
}

func (a *Advisor) nextRollingIteration(ctx context.Context, ev *ExecutionEvent, wf *OrchestrationWorkflow, phase *WorkflowPhase) *ExecutionEventAdvice {
	if a.selector == nil {
		return nil
	}
	var remaining int
	a.isolate(ev, collaboratorSelector, func() error {
		var err error
		remaining, err = a.selector.RemainingInstances(ctx, ev.ExecutionID, phase.ID)
		return err
	})
	if remaining <= 0 {
		return nil
	}
	n := rollingIndex(ev.DisplayName, rollingPhaseDisplay, wf.ForwardPhaseIndex(phase.ID)+1)
	return &ExecutionEventAdvice{
		InterruptType:        InterruptNextStep,
		NextStateName:        phase.Name,
		NextStateDisplayName: rollingDisplayName(n + 1),
	}
}

func (a *Advisor) pendingInterrupts(ctx context.Context, ev *ExecutionEvent) []Interrupt {
	if a.interrupts == nil {
		return nil
	}
	var pending []Interrupt
	a.isolate(ev, collaboratorInterrupts, func() error {
		var err error
		pending, err = a.interrupts.PendingInterrupts(ctx, ev.ExecutionID)
		return err
	})
	return pending
}

func (a *Advisor) attemptCount(ctx context.Context, ev *ExecutionEvent) int {
	if a.attempts == nil {
		return 0
	}
	var n int
	a.isolate(ev, collaboratorAttempts, func() error {
		var err error
		n, err = a.attempts.AttemptCount(ctx, ev.ExecutionID, ev.StateID)
		return err
	})
	return n
}

func (a *Advisor) notify(ctx context.Context, ev *ExecutionEvent, phase *WorkflowPhase) {
	if a.notifier == nil {
		return
	}
	a.isolate(ev, collaboratorNotifier, func() error {
		return a.notifier.NotifyPhaseStatusChange(ctx, ev, phase)
	})
}

func (a *Advisor) extract(ctx context.Context, ev *ExecutionEvent, phase *WorkflowPhase) {
	if a.extractor == nil {
		return
	}
	a.isolate(ev, collaboratorExtractor, func() error {
		return a.extractor.ExtractInstances(ctx, ev, phase)
	})
}

// isolate runs a collaborator call. Errors and panics are logged and counted.
func (a *Advisor) isolate(ev *ExecutionEvent, collaborator string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.RecordCollaboratorFailure(collaborator)
			a.logger.Error().
				Str("collaborator", collaborator).
				Str("execution_id", ev.ExecutionID).
				Interface("panic", r).
				Msg("Collaborator panicked")
		}
	}()
	if err := fn(); err != nil {
		a.metrics.RecordCollaboratorFailure(collaborator)
		a.logger.Warn().Err(err).
			Str("collaborator", collaborator).
			Str("execution_id", ev.ExecutionID).
			Msg("Collaborator call failed")
	}
}

// enclosingPhase returns the phase the event's state belongs to.
func enclosingPhase(ev *ExecutionEvent, wf *OrchestrationWorkflow) *WorkflowPhase {
	if ev.StateType == StateTypePhase {
		if p := wf.Phase(ev.StateID); p != nil {
			return p
		}
	}
	if ev.PhaseID != "" {
		if p := wf.Phase(ev.PhaseID); p != nil {
			return p
		}
	}
	if p := wf.PhaseOfPhaseStep(ev.ParentStateID); p != nil {
		return p
	}
	if p := wf.PhaseOfPhaseStep(ev.StateID); p != nil {
		return p
	}
	if ps := wf.PhaseStepOfStep(ev.StateID); ps != nil {
		return wf.PhaseOfPhaseStep(ps.ID)
	}
	return nil
}

func manualInterventionParams(ev *ExecutionEvent, wf *OrchestrationWorkflow) map[string]interface{} {
	params := make(map[string]interface{})
	if st := wf.Step(ev.StateID); st != nil {
		for k, v := range st.Properties.Clone() {
			params[k] = v
		}
		if st.Template != nil {
			params["templateUuid"] = st.Template.UUID
			params["templateVersion"] = st.Template.Version
			params["templateVariables"] = st.Template.Variables
		}
	}
	params["accountId"] = wf.AccountID
	return params
}

func rollbackAdvice(next, display string) *ExecutionEventAdvice {
	return &ExecutionEventAdvice{
		InterruptType:        InterruptRollback,
		NextStateName:        next,
		NextStateDisplayName: display,
		RollbackPhaseName:    next,
	}
}

// retryWait returns the wait before the next attempt. The last interval
// repeats once the list is exhausted.
func retryWait(intervals []int, attempts int) int {
	if len(intervals) == 0 {
		return 0
	}
	if attempts >= len(intervals) {
		return intervals[len(intervals)-1]
	}
	return intervals[attempts]
}

func rollingDisplayName(n int) string {
	return fmt.Sprintf("%s %d", rollingPhaseDisplay, n)
}

func rollbackDisplayName(n int) string {
	return fmt.Sprintf("%s %d", rollbackPhaseDisplay, n)
}

// rollingIndex parses the iteration number out of a display name such as
// "Rolling Phase 3", returning def when the name does not carry one.
func rollingIndex(display, prefix string, def int) int {
	rest := strings.TrimSpace(strings.TrimPrefix(display, prefix))
	if rest == display {
		return def
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return def
	}
	return n
}
