package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// RollbackPhasePrefix is prepended to a forward phase name to name its rollback phase.
const RollbackPhasePrefix = "Rollback "

// rollbackEntry reverses one forward slot. It is emitted only when the
// forward phase has the guard slot.
type rollbackEntry struct {
	slot  PhaseStepType
	name  string
	guard PhaseStepType

	// tag is the single rollback action of the slot.
	tag string

	// copyOf copies the steps of a forward slot as rollback steps.
	copyOf PhaseStepType

	// stopCommands adds the service stop commands.
	stopCommands bool

	when func(*WorkflowPhase) bool
}

type rollbackKey struct {
	deploymentType DeploymentType
	variant        Variant
}

// rollbackTable lists the reversal entries of a phase shape and the forward
// slots that count as its deploy slot, in order of preference.
type rollbackTable struct {
	entries     []rollbackEntry
	deploySlots []PhaseStepType
}

func isDaemon(p *WorkflowPhase) bool { return p.DaemonSet }

var rollbackTables = map[rollbackKey]rollbackTable{
	{DeploymentECS, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepContainerSetup, name: "Rollback Container Setup", guard: PhaseStepContainerSetup,
				tag: StepECSServiceSetupRollback, when: isDaemon},
			{slot: PhaseStepContainerDeploy, name: "Rollback Containers", guard: PhaseStepContainerDeploy,
				tag: StepECSServiceRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup},
	},
	{DeploymentECS, VariantBlueGreen}: {
		entries: []rollbackEntry{
			{slot: PhaseStepECSUpdateListenerBG, name: "Rollback Target Groups", guard: PhaseStepECSUpdateListenerBG,
				tag: StepECSListenerUpdateRollback},
			{slot: PhaseStepContainerDeploy, name: "Rollback Containers", guard: PhaseStepContainerDeploy,
				tag: StepECSServiceRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup},
	},
	{DeploymentECS, VariantBlueGreenRoute53}: {
		entries: []rollbackEntry{
			{slot: PhaseStepECSUpdateRoute53DNSWeight, name: "Rollback Route 53 Weights", guard: PhaseStepECSUpdateRoute53DNSWeight,
				tag: StepECSRoute53DNSWeightUpdateRollback},
			{slot: PhaseStepContainerDeploy, name: "Rollback Containers", guard: PhaseStepContainerDeploy,
				tag: StepECSServiceRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup},
	},
	{DeploymentKubernetes, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepContainerDeploy, name: "Rollback Containers", guard: PhaseStepContainerDeploy,
				tag: StepKubernetesDeployRollback},
			{slot: PhaseStepContainerSetup, name: "Rollback Container Setup", guard: PhaseStepContainerSetup,
				tag: StepKubernetesSetupRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup},
	},
	{DeploymentKubernetes, VariantCanary}: {
		entries: []rollbackEntry{
			{slot: PhaseStepScale, name: "Rollback Containers", guard: PhaseStepScale,
				tag: StepKubernetesDeployRollback},
			{slot: PhaseStepContainerSetup, name: "Rollback Container Setup", guard: PhaseStepContainerSetup,
				tag: StepKubernetesSetupRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepScale, PhaseStepContainerSetup},
	},
	{DeploymentKubernetes, VariantBlueGreen}: {
		entries: []rollbackEntry{
			{slot: PhaseStepRouteUpdate, name: "Route Update", guard: PhaseStepRouteUpdate,
				copyOf: PhaseStepRouteUpdate},
			{slot: PhaseStepContainerDeploy, name: "Rollback Containers", guard: PhaseStepContainerDeploy,
				tag: StepKubernetesDeployRollback},
			{slot: PhaseStepContainerSetup, name: "Rollback Container Setup", guard: PhaseStepContainerSetup,
				tag: StepKubernetesSetupRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup},
	},
	{DeploymentHelm, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepHelmDeploy, name: "Helm Rollback", guard: PhaseStepHelmDeploy, tag: StepHelmRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepHelmDeploy},
	},
	{DeploymentPCF, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepPCFResize, name: "App Rollback", guard: PhaseStepPCFResize, tag: StepPCFRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepPCFResize, PhaseStepPCFSetup},
	},
	{DeploymentPCF, VariantBlueGreen}: {
		entries: []rollbackEntry{
			{slot: PhaseStepPCFSwitchRoutes, name: "Restore Routes", guard: PhaseStepPCFSwitchRoutes,
				copyOf: PhaseStepPCFSwitchRoutes},
			{slot: PhaseStepPCFResize, name: "App Rollback", guard: PhaseStepPCFResize, tag: StepPCFRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepPCFResize, PhaseStepPCFSetup},
	},
	{DeploymentAMI, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepAMIDeployAutoScaling, name: "Rollback Service", guard: PhaseStepAMIDeployAutoScaling,
				tag: StepAWSAMIServiceRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepAMIDeployAutoScaling, PhaseStepAMIAutoScalingGroupSetup},
	},
	{DeploymentAMI, VariantBlueGreen}: {
		entries: []rollbackEntry{
			{slot: PhaseStepAMISwitchRoutes, name: "Rollback AutoScaling Group Route", guard: PhaseStepAMISwitchRoutes,
				tag: StepAWSAMIRollbackSwitchRoutes},
		},
		deploySlots: []PhaseStepType{PhaseStepAMIDeployAutoScaling, PhaseStepAMIAutoScalingGroupSetup},
	},
	{DeploymentAWSLambda, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepDeployAWSLambda, name: "Rollback Service", guard: PhaseStepDeployAWSLambda,
				tag: StepAWSLambdaRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepDeployAWSLambda},
	},
	{DeploymentAWSCodeDeploy, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepDeployAWSCodeDeploy, name: "Rollback Service", guard: PhaseStepDeployAWSCodeDeploy,
				tag: StepAWSCodeDeployRollback},
		},
		deploySlots: []PhaseStepType{PhaseStepDeployAWSCodeDeploy},
	},
	{DeploymentSSH, VariantStandard}: {
		entries: []rollbackEntry{
			{slot: PhaseStepDisableService, guard: PhaseStepEnableService, copyOf: PhaseStepDisableService},
			{slot: PhaseStepStopService, guard: PhaseStepDeployService, stopCommands: true},
			{slot: PhaseStepDeployService, guard: PhaseStepDeployService, copyOf: PhaseStepDeployService},
			{slot: PhaseStepEnableService, guard: PhaseStepDisableService, copyOf: PhaseStepEnableService},
		},
		deploySlots: []PhaseStepType{PhaseStepDeployService},
	},
}

// Synthesizer mirrors forward phases into rollback phases.
type Synthesizer struct {
	registry *StepTypeRegistry
}

// NewSynthesizer creates a rollback synthesizer backed by the given registry.
func NewSynthesizer(registry *StepTypeRegistry) *Synthesizer {
	return &Synthesizer{registry: registry}
}

// SynthesizeRollback builds the rollback phase of a forward phase.
// The service is consulted only for SSH stop commands and may be nil.
//
// Each emitted rollback phase-step is guarded on the forward phase-step it
// reverses reaching SUCCESS. VERIFY_SERVICE and WRAP_UP guard on the forward
// deploy slot, falling back to the setup slot when the phase has no deploy.
func (s *Synthesizer) SynthesizeRollback(forward *WorkflowPhase, svc *ServiceSpec) (*WorkflowPhase, error) {
	if forward == nil {
		return nil, NewPermanentError("forward phase is nil", nil).WithCode(ErrCodeValidation)
	}
	if forward.Rollback {
		return nil, NewPermanentError("cannot synthesize rollback of a rollback phase", nil).
			WithCode(ErrCodeValidation).WithResource(forward.ID)
	}
	variant := forward.Variant
	if variant == "" {
		variant = VariantStandard
	}
	table, ok := rollbackTables[rollbackKey{forward.DeploymentType, variant}]
	if !ok {
		return nil, NewConfigurationError(
			fmt.Sprintf("no rollback table for deployment type %s, variant %s", forward.DeploymentType, variant),
			nil,
		).WithResource(forward.ID)
	}

	rollback := &WorkflowPhase{
		ID:                  uuid.New().String(),
		Name:                RollbackPhasePrefix + forward.Name,
		ServiceID:           forward.ServiceID,
		InfraTargetID:       forward.InfraTargetID,
		ComputeProviderID:   forward.ComputeProviderID,
		DeploymentType:      forward.DeploymentType,
		Variant:             variant,
		Rollback:            true,
		RollbackOfPhaseID:   forward.ID,
		RollbackOfPhaseName: forward.Name,
		DaemonSet:           forward.DaemonSet,
		StatefulSet:         forward.StatefulSet,
	}

	b := newSlotBuilder(s.registry, true)
	for _, e := range table.entries {
		guard := forward.PhaseStepByType(e.guard)
		if guard == nil || (e.when != nil && !e.when(forward)) {
			continue
		}
		var specs []stepSpec
		if e.tag != "" {
			specs = append(specs, stepSpec{tag: e.tag})
		}
		if e.stopCommands && svc != nil {
			specs = append(specs, commandSteps(svc.Commands.Stop)...)
		}
		ps := b.add(e.slot, e.name, specs...)
		if ps == nil {
			break
		}
		if e.copyOf != "" {
			ps.Steps = append(ps.Steps, copySteps(forward.PhaseStepByType(e.copyOf), true)...)
		}
		guardOn(ps, guard)
	}

	if deploy := firstSlot(forward, table.deploySlots); deploy != nil {
		for _, t := range []PhaseStepType{PhaseStepVerifyService, PhaseStepWrapUp} {
			fwd := forward.PhaseStepByType(t)
			if fwd == nil {
				continue
			}
			ps := b.add(t, "")
			if ps == nil {
				break
			}
			ps.Steps = append(ps.Steps, copySteps(fwd, true)...)
			guardOn(ps, deploy)
		}
	}

	slots, err := b.result()
	if err != nil {
		return nil, err
	}
	rollback.PhaseSteps = slots
	return rollback, nil
}

func guardOn(ps, forward *PhaseStep) {
	ps.RollbackGuardStepType = forward.Type
	ps.RollbackGuardStepID = forward.ID
	ps.RollbackGuardStatus = StatusSuccess
}

func firstSlot(p *WorkflowPhase, types []PhaseStepType) *PhaseStep {
	for _, t := range types {
		if ps := p.PhaseStepByType(t); ps != nil {
			return ps
		}
	}
	return nil
}

// copySteps returns fresh copies of a phase-step's steps with new IDs.
func copySteps(ps *PhaseStep, rollback bool) []*Step {
	if ps == nil {
		return nil
	}
	out := make([]*Step, 0, len(ps.Steps))
	for _, st := range ps.Steps {
		c := &Step{
			ID:         uuid.New().String(),
			Type:       st.Type,
			Name:       st.Name,
			Properties: st.Properties.Clone(),
			Rollback:   rollback,
		}
		if st.Template != nil {
			ref := *st.Template
			ref.Variables = make(map[string]string, len(st.Template.Variables))
			for k, v := range st.Template.Variables {
				ref.Variables[k] = v
			}
			c.Template = &ref
		}
		out = append(out, c)
	}
	return out
}
