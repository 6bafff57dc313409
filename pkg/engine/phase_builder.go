package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// PhaseRequest describes a phase to attach to or regenerate in a workflow.
type PhaseRequest struct {
	// Name defaults to "Phase N", or "Rolling Phase N" under ROLLING.
	Name string

	ServiceID     string
	InfraTargetID string

	// DeploymentType defaults to the service's deployment type.
	DeploymentType DeploymentType

	// Variant pins the variant instead of resolving it from the topology.
	Variant Variant

	// SkipSetup omits the setup slot.
	SkipSetup bool
}

// PhaseBuilder populates phases through the template library and the
// rollback synthesizer and attaches them to a workflow.
type PhaseBuilder struct {
	lookup      ServiceLookup
	library     *TemplateLibrary
	synthesizer *Synthesizer
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
}

// PhaseBuilderOption configures a PhaseBuilder.
type PhaseBuilderOption func(*PhaseBuilder)

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger zerolog.Logger) PhaseBuilderOption {
	return func(b *PhaseBuilder) { b.logger = logger }
}

// WithBuilderTelemetry records generation metrics and spans.
func WithBuilderTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer) PhaseBuilderOption {
	return func(b *PhaseBuilder) {
		b.metrics = metrics
		b.tracer = tracer
	}
}

// NewPhaseBuilder creates a phase builder.
func NewPhaseBuilder(lookup ServiceLookup, library *TemplateLibrary, synthesizer *Synthesizer, opts ...PhaseBuilderOption) *PhaseBuilder {
	b := &PhaseBuilder{
		lookup:      lookup,
		library:     library,
		synthesizer: synthesizer,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AttachPhase builds a forward phase and its rollback phase and appends both
// to the workflow. The workflow is left unchanged when building fails.
func (b *PhaseBuilder) AttachPhase(ctx context.Context, wf *OrchestrationWorkflow, req PhaseRequest) (*WorkflowPhase, error) {
	ctx, span := b.tracer.StartSpan(ctx, "phase.attach",
		telemetry.AttrWorkflowID.String(wf.ID),
		telemetry.AttrServiceID.String(req.ServiceID),
	)

	if req.Name == "" {
		req.Name = defaultPhaseName(wf, len(wf.Phases)+1)
	}
	forward := &WorkflowPhase{ID: uuid.New().String(), Name: req.Name}

	rollback, err := b.populate(ctx, wf, forward, req)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	wf.Phases = append(wf.Phases, forward)
	wf.RollbackByForwardPhaseID[forward.ID] = rollback
	wf.bump()

	b.logger.Info().
		Str("workflow_id", wf.ID).
		Str("phase_id", forward.ID).
		Str("phase", forward.Name).
		Str("deployment_type", string(forward.DeploymentType)).
		Str("variant", string(forward.Variant)).
		Int("phase_steps", len(forward.PhaseSteps)).
		Int("rollback_phase_steps", len(rollback.PhaseSteps)).
		Msg("Phase attached")

	telemetry.EndSpan(span, nil)
	return forward, nil
}

// RegeneratePhase re-targets an existing phase. The templates are rerun when
// the deployment type, variant or infrastructure type changes. When only the
// infrastructure target changes, node selection is reset instead.
func (b *PhaseBuilder) RegeneratePhase(ctx context.Context, wf *OrchestrationWorkflow, phaseID string, req PhaseRequest) (*WorkflowPhase, error) {
	ctx, span := b.tracer.StartSpan(ctx, "phase.regenerate",
		telemetry.AttrWorkflowID.String(wf.ID),
		telemetry.AttrPhaseID.String(phaseID),
	)

	i := wf.ForwardPhaseIndex(phaseID)
	if i < 0 {
		err := NewPermanentError("forward phase not found", nil).WithCode(ErrCodeNotFound).WithResource(phaseID)
		telemetry.EndSpan(span, err)
		return nil, err
	}
	current := wf.Phases[i]

	if req.ServiceID == "" {
		req.ServiceID = current.ServiceID
	}
	if req.InfraTargetID == "" {
		req.InfraTargetID = current.InfraTargetID
	}
	if req.Name == "" {
		req.Name = current.Name
	}

	if req.ServiceID != current.ServiceID {
		if err := b.checkServiceCompatible(ctx, current.ServiceID, req.ServiceID); err != nil {
			telemetry.EndSpan(span, err)
			return nil, err
		}
	}

	svc, infra, err := b.resolveTargets(ctx, req)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	templateReq := b.templateRequest(wf, req, svc, infra)

	// An unreadable old target forces a full rebuild of the phase.
	oldInfra, err := b.lookup.GetInfraTarget(ctx, current.InfraTargetID)
	if err != nil {
		b.logger.Debug().
			Err(err).
			Str("phase_id", current.ID).
			Str("infra_target_id", current.InfraTargetID).
			Msg("Previous infrastructure target not readable, rebuilding phase")
	}
	infraTypeChanged := oldInfra == nil || oldInfra.Type != infra.Type
	reshape := templateReq.DeploymentType != current.DeploymentType ||
		templateReq.Variant != current.Variant ||
		infraTypeChanged

	if !reshape {
		updated := clonePhase(current)
		updated.Name = req.Name
		updated.ServiceID = svc.ID
		if updated.InfraTargetID != infra.ID {
			ResetNodeSelection(updated)
		}
		updated.InfraTargetID = infra.ID
		updated.ComputeProviderID = infra.ComputeProviderID

		rollback, err := b.synthesizer.SynthesizeRollback(updated, svc)
		if err != nil {
			telemetry.EndSpan(span, err)
			return nil, err
		}
		wf.Phases[i] = updated
		wf.RollbackByForwardPhaseID[updated.ID] = rollback
		wf.bump()
		telemetry.EndSpan(span, nil)
		return updated, nil
	}

	regenerated := &WorkflowPhase{ID: current.ID, Name: req.Name}
	rollback, err := b.populate(ctx, wf, regenerated, req)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	wf.Phases[i] = regenerated
	wf.RollbackByForwardPhaseID[regenerated.ID] = rollback
	wf.bump()

	b.logger.Info().
		Str("workflow_id", wf.ID).
		Str("phase_id", regenerated.ID).
		Str("deployment_type", string(regenerated.DeploymentType)).
		Msg("Phase regenerated")

	telemetry.EndSpan(span, nil)
	return regenerated, nil
}

// populate fills the forward phase in place and returns its rollback phase.
func (b *PhaseBuilder) populate(ctx context.Context, wf *OrchestrationWorkflow, forward *WorkflowPhase, req PhaseRequest) (*WorkflowPhase, error) {
	start := time.Now()
	svc, infra, err := b.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	templateReq := b.templateRequest(wf, req, svc, infra)

	steps, err := b.library.BuildForwardPhaseSteps(ctx, templateReq)
	if err != nil {
		b.metrics.RecordPhaseGeneration(string(templateReq.DeploymentType), "error", time.Since(start))
		return nil, err
	}

	forward.ServiceID = svc.ID
	forward.InfraTargetID = infra.ID
	forward.ComputeProviderID = infra.ComputeProviderID
	forward.DeploymentType = templateReq.DeploymentType
	forward.Variant = templateReq.Variant
	forward.DaemonSet = templateReq.DaemonSet
	forward.StatefulSet = templateReq.StatefulSet
	forward.PhaseSteps = steps

	rollback, err := b.synthesizer.SynthesizeRollback(forward, svc)
	if err != nil {
		b.metrics.RecordPhaseGeneration(string(templateReq.DeploymentType), "error", time.Since(start))
		return nil, err
	}
	b.metrics.RecordPhaseGeneration(string(templateReq.DeploymentType), "success", time.Since(start))
	b.metrics.RecordRollbackSynthesized(string(templateReq.DeploymentType))
	return rollback, nil
}

func (b *PhaseBuilder) resolveTargets(ctx context.Context, req PhaseRequest) (*ServiceSpec, *InfraTarget, error) {
	svc, err := b.lookup.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up service %s: %w", req.ServiceID, err)
	}
	infra, err := b.lookup.GetInfraTarget(ctx, req.InfraTargetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up infrastructure target %s: %w", req.InfraTargetID, err)
	}
	return svc, infra, nil
}

func (b *PhaseBuilder) templateRequest(wf *OrchestrationWorkflow, req PhaseRequest, svc *ServiceSpec, infra *InfraTarget) TemplateRequest {
	tr := NewTemplateRequest(wf.Topology, svc, infra)
	if req.DeploymentType != "" && req.DeploymentType != tr.DeploymentType {
		tr.DeploymentType = req.DeploymentType
		tr.Variant = ResolveVariant(wf.Topology, req.DeploymentType, infra)
	}
	if req.Variant != "" {
		tr.Variant = req.Variant
	}
	tr.NeedsSetup = !req.SkipSetup
	return tr
}

func (b *PhaseBuilder) checkServiceCompatible(ctx context.Context, oldID, newID string) error {
	oldSvc, err := b.lookup.GetService(ctx, oldID)
	if err != nil {
		return fmt.Errorf("failed to look up service %s: %w", oldID, err)
	}
	newSvc, err := b.lookup.GetService(ctx, newID)
	if err != nil {
		return fmt.Errorf("failed to look up service %s: %w", newID, err)
	}
	if oldSvc.ArtifactType != newSvc.ArtifactType {
		return NewConfigurationError(
			fmt.Sprintf("service %s has artifact type %s, phase requires %s", newSvc.Name, newSvc.ArtifactType, oldSvc.ArtifactType),
			nil,
		).WithResource(newID)
	}
	return nil
}

// EnsureArtifactCheck adds an artifact check step to pre-deployment when the
// workflow has SSH or PCF phases.
func (b *PhaseBuilder) EnsureArtifactCheck(wf *OrchestrationWorkflow) error {
	needed := false
	for _, p := range wf.Phases {
		if p.DeploymentType == DeploymentSSH || p.DeploymentType == DeploymentPCF {
			needed = true
			break
		}
	}
	if !needed || wf.PreDeploymentSteps.HasStepType(StepArtifactCheck) {
		return nil
	}
	step, err := b.library.Registry().NewStep(StepArtifactCheck, "", nil, false)
	if err != nil {
		return err
	}
	wf.PreDeploymentSteps.Steps = append(wf.PreDeploymentSteps.Steps, step)
	wf.bump()
	return nil
}

// EnsureRollbackProvisioners creates the rollback-provisioners phase-step
// reversing each provisioning step of pre-deployment.
func (b *PhaseBuilder) EnsureRollbackProvisioners(wf *OrchestrationWorkflow) error {
	if !wf.HasProvisioners() {
		if wf.RollbackProvisioners != nil {
			wf.RollbackProvisioners = nil
			wf.bump()
		}
		return nil
	}
	registry := b.library.Registry()
	ps := newEmptyPhaseStep(PhaseStepRollbackProvisioners)
	ps.Rollback = true
	if wf.RollbackProvisioners != nil {
		ps.ID = wf.RollbackProvisioners.ID
		ps.FailureStrategies = wf.RollbackProvisioners.FailureStrategies
	}
	for _, st := range wf.PreDeploymentSteps.Steps {
		d, ok := registry.Lookup(st.Type)
		if !ok || d.RollbackTag == "" {
			continue
		}
		if st.Type != StepCloudFormationCreateStack && st.Type != StepTerraformProvision {
			continue
		}
		rb, err := registry.NewStep(d.RollbackTag, "Rollback "+st.Name, Properties{
			"provisionerId": st.Properties["provisionerId"],
		}, true)
		if err != nil {
			return err
		}
		ps.Steps = append(ps.Steps, rb)
	}
	wf.RollbackProvisioners = ps
	wf.bump()
	return nil
}

// ResetNodeSelection clears host pinning on the node selection steps of a phase.
func ResetNodeSelection(p *WorkflowPhase) {
	for _, ps := range p.PhaseSteps {
		if ps.Type != PhaseStepSelectNodes {
			continue
		}
		for _, st := range ps.Steps {
			if st.Properties == nil {
				continue
			}
			st.Properties["specificHosts"] = false
			delete(st.Properties, "hostNames")
		}
	}
}

func defaultPhaseName(wf *OrchestrationWorkflow, n int) string {
	if wf.Topology == TopologyRolling {
		return fmt.Sprintf("Rolling Phase %d", n)
	}
	return fmt.Sprintf("Phase %d", n)
}

func clonePhase(p *WorkflowPhase) *WorkflowPhase {
	c := *p
	c.PhaseSteps = make([]*PhaseStep, 0, len(p.PhaseSteps))
	for _, ps := range p.PhaseSteps {
		cps := *ps
		cps.Steps = make([]*Step, 0, len(ps.Steps))
		for _, st := range ps.Steps {
			cst := *st
			cst.Properties = st.Properties.Clone()
			cps.Steps = append(cps.Steps, &cst)
		}
		cps.FailureStrategies = append([]FailureStrategy(nil), ps.FailureStrategies...)
		c.PhaseSteps = append(c.PhaseSteps, &cps)
	}
	return &c
}
