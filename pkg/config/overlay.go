package config

import (
	"context"
	"fmt"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// overlayTarget is a step matched by an overlay along with its placement.
type overlayTarget struct {
	step      *engine.Step
	phaseStep *engine.PhaseStep
	phase     *engine.WorkflowPhase
}

// ApplyOverlays runs each overlay script against the steps it matches and
// merges the "properties" dict the script assigns into the step. Steps are
// visited in execution order: pre-deployment, phases, post-deployment, then
// rollback phases when the overlay asks for them.
func ApplyOverlays(ctx context.Context, se *StarlarkEvaluator, wf *engine.OrchestrationWorkflow, overlays []OverlayDefinition, variables map[string]interface{}) (int, error) {
	applied := 0
	for i, ov := range overlays {
		name := ov.Name
		if name == "" {
			name = fmt.Sprintf("overlay_%d", i)
		}
		for _, target := range overlayTargets(wf, ov) {
			result, err := se.Evaluate(ctx, name, ov.Script, overlayInput(wf, target, variables))
			if err != nil {
				return applied, engine.NewConfigurationError(fmt.Sprintf("overlay %s failed on step %s", name, target.step.Name), err).
					WithResource(target.step.ID)
			}
			raw, ok := result.Output["properties"]
			if !ok || raw == nil {
				continue
			}
			props, ok := raw.(map[string]interface{})
			if !ok {
				return applied, engine.NewConfigurationError(
					fmt.Sprintf("overlay %s must assign a dict to properties, got %T", name, raw), nil).
					WithResource(target.step.ID)
			}
			if err := wf.UpdateStepProperties(target.step.ID, engine.Properties(props)); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

func overlayTargets(wf *engine.OrchestrationWorkflow, ov OverlayDefinition) []overlayTarget {
	var out []overlayTarget
	collect := func(phase *engine.WorkflowPhase, ps *engine.PhaseStep) {
		if ps == nil {
			return
		}
		if ov.PhaseStepType != "" && string(ps.Type) != ov.PhaseStepType {
			return
		}
		for _, st := range ps.Steps {
			if ov.StepType != "" && st.Type != ov.StepType {
				continue
			}
			out = append(out, overlayTarget{step: st, phaseStep: ps, phase: phase})
		}
	}

	collect(nil, wf.PreDeploymentSteps)
	for _, p := range wf.Phases {
		for _, ps := range p.PhaseSteps {
			collect(p, ps)
		}
	}
	collect(nil, wf.PostDeploymentSteps)
	if ov.Rollback {
		for _, p := range wf.Phases {
			rb := wf.RollbackByForwardPhaseID[p.ID]
			if rb == nil {
				continue
			}
			for _, ps := range rb.PhaseSteps {
				collect(rb, ps)
			}
		}
		collect(nil, wf.RollbackProvisioners)
	}
	return out
}

func overlayInput(wf *engine.OrchestrationWorkflow, t overlayTarget, variables map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(t.step.Properties))
	for k, v := range t.step.Properties {
		props[k] = v
	}
	input := map[string]interface{}{
		"step": map[string]interface{}{
			"id":         t.step.ID,
			"type":       t.step.Type,
			"name":       t.step.Name,
			"rollback":   t.step.Rollback,
			"properties": props,
		},
		"phase_step": map[string]interface{}{
			"type": string(t.phaseStep.Type),
			"name": t.phaseStep.Name,
		},
		"workflow": map[string]interface{}{
			"name":     wf.Name,
			"topology": string(wf.Topology),
		},
		"variables": variables,
	}
	if variables == nil {
		input["variables"] = map[string]interface{}{}
	}
	if t.phase != nil {
		input["phase"] = map[string]interface{}{
			"name":           t.phase.Name,
			"serviceId":      t.phase.ServiceID,
			"infraTargetId":  t.phase.InfraTargetID,
			"deploymentType": string(t.phase.DeploymentType),
			"variant":        string(t.phase.Variant),
			"rollback":       t.phase.Rollback,
		}
	} else {
		input["phase"] = nil
	}
	return input
}
