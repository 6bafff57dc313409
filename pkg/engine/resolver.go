package engine

import (
	"github.com/rs/zerolog"
)

// Resolver picks the failure strategy that applies to a failing state.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve returns the strategy applying to the event's state, or nil when none does.
//
// The strategies of the enclosing phase-step are authoritative when that
// phase-step declares any; otherwise the workflow strategies are searched.
// Among the applicable strategies ROLLBACK_WORKFLOW wins over ROLLBACK_PHASE,
// which wins over declaration order. WORKFLOW_PHASE strategies only apply to
// states running inside a phase.
func (r *Resolver) Resolve(ev *ExecutionEvent, wf *OrchestrationWorkflow) (*FailureStrategy, error) {
	if ev == nil || wf == nil {
		return nil, NewPermanentError("event and workflow are required", nil).WithCode(ErrCodeValidation)
	}

	candidates := wf.FailureStrategies
	scope := "workflow"
	if ps := r.enclosingPhaseStep(ev, wf); ps != nil && len(ps.FailureStrategies) > 0 {
		candidates = ps.FailureStrategies
		scope = "phase_step"
	}

	if len(ev.FailureTypes) == 0 && ev.Status.IsNegative() {
		r.logger.Error().
			Str("execution_id", ev.ExecutionID).
			Str("state_id", ev.StateID).
			Str("status", string(ev.Status)).
			Msg("Failed state carries no failure types, all strategies apply")
	}

	inPhase := r.inPhase(ev, wf)
	var applicable []*FailureStrategy
	for i := range candidates {
		s := &candidates[i]
		if !matchesFailureTypes(s, ev) || !matchesSpecificSteps(s, ev) {
			continue
		}
		if s.ExecutionScope == ScopeWorkflowPhase && !inPhase {
			continue
		}
		applicable = append(applicable, s)
	}

	selected := selectTopStrategy(applicable)
	if selected != nil {
		r.logger.Debug().
			Str("execution_id", ev.ExecutionID).
			Str("state_id", ev.StateID).
			Str("scope", scope).
			Str("repair_action", string(selected.RepairActionCode)).
			Msg("Failure strategy resolved")
	}
	return selected, nil
}

// enclosingPhaseStep returns the phase-step the state belongs to. A phase-step
// state is its own enclosing phase-step.
func (r *Resolver) enclosingPhaseStep(ev *ExecutionEvent, wf *OrchestrationWorkflow) *PhaseStep {
	if ev.StateType == StateTypePhaseStep {
		if ps := wf.PhaseStep(ev.StateID); ps != nil {
			return ps
		}
	}
	if ev.ParentStateID != "" {
		if ps := wf.PhaseStep(ev.ParentStateID); ps != nil {
			return ps
		}
	}
	return wf.PhaseStepOfStep(ev.StateID)
}

// inPhase reports whether the state is a phase or runs inside one. Pre- and
// post-deployment steps and the provisioner rollback are outside every phase.
func (r *Resolver) inPhase(ev *ExecutionEvent, wf *OrchestrationWorkflow) bool {
	if ev.StateType == StateTypePhase || ev.PhaseID != "" {
		return true
	}
	if ps := r.enclosingPhaseStep(ev, wf); ps != nil {
		return wf.PhaseOfPhaseStep(ps.ID) != nil
	}
	return false
}

func matchesFailureTypes(s *FailureStrategy, ev *ExecutionEvent) bool {
	if len(s.FailureTypes) == 0 || len(ev.FailureTypes) == 0 {
		return true
	}
	for _, want := range s.FailureTypes {
		for _, got := range ev.FailureTypes {
			if want == got {
				return true
			}
		}
	}
	return false
}

func matchesSpecificSteps(s *FailureStrategy, ev *ExecutionEvent) bool {
	if len(s.SpecificSteps) == 0 {
		return true
	}
	return containsString(s.SpecificSteps, ev.StateName)
}

func selectTopStrategy(strategies []*FailureStrategy) *FailureStrategy {
	if len(strategies) == 0 {
		return nil
	}
	for _, code := range []RepairActionCode{RepairRollbackWorkflow, RepairRollbackPhase} {
		for _, s := range strategies {
			if s.RepairActionCode == code {
				return s
			}
		}
	}
	return strategies[0]
}
