package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TemplateRequest carries everything a template needs to shape a forward phase.
type TemplateRequest struct {
	DeploymentType DeploymentType
	Topology       OrchestrationWorkflowType
	Variant        Variant

	// NeedsSetup includes the setup slot. It is true when the phase's
	// infrastructure target was just attached or changed.
	NeedsSetup bool

	Service *ServiceSpec
	Infra   *InfraTarget

	DaemonSet   bool
	StatefulSet bool
}

// NewTemplateRequest builds a request for the service and infrastructure of a phase.
// The variant is resolved from the topology and daemon scheduling is detected
// from the service definition.
func NewTemplateRequest(topology OrchestrationWorkflowType, svc *ServiceSpec, infra *InfraTarget) TemplateRequest {
	req := TemplateRequest{
		Topology:   topology,
		NeedsSetup: true,
		Service:    svc,
		Infra:      infra,
	}
	if svc == nil {
		return req
	}
	req.DeploymentType = svc.DeploymentType
	req.Variant = ResolveVariant(topology, svc.DeploymentType, infra)
	switch svc.DeploymentType {
	case DeploymentECS:
		req.DaemonSet = IsECSDaemonService(topology, svc)
	case DeploymentKubernetes, DeploymentPCF:
		req.DaemonSet = svc.DaemonSet
		req.StatefulSet = svc.StatefulSet
	}
	return req
}

var daemonSchedulingPattern = regexp.MustCompile(`(?i)"schedulingStrategy"\s*:\s*"DAEMON"`)

// IsECSDaemonService reports whether an ECS service is scheduled as a daemon.
// Detection only applies under the BASIC topology. A raw service specification
// takes precedence over the structured field.
func IsECSDaemonService(topology OrchestrationWorkflowType, svc *ServiceSpec) bool {
	if topology != TopologyBasic || svc == nil {
		return false
	}
	if strings.TrimSpace(svc.ServiceSpecJSON) != "" {
		return daemonSchedulingPattern.MatchString(svc.ServiceSpecJSON)
	}
	return strings.EqualFold(svc.SchedulingStrategy, "DAEMON")
}

type templateKey struct {
	deploymentType DeploymentType
	topology       OrchestrationWorkflowType
	variant        Variant
}

type templateFunc func(b *slotBuilder, req TemplateRequest) error

// blueGreenInfraTypes lists the infrastructure types that support blue/green per deployment type.
var blueGreenInfraTypes = map[DeploymentType][]string{
	DeploymentECS:        {InfraAWSECS},
	DeploymentKubernetes: {InfraDirectKubernetes, InfraGCPKubernetes, InfraAzureKubernetes},
	DeploymentPCF:        {InfraPCF},
	DeploymentAMI:        {InfraAWSAMI},
}

// TemplateLibrary assembles the forward phase-steps of a phase.
// Templates are looked up in a table keyed by deployment type, topology and variant.
type TemplateLibrary struct {
	registry *StepTypeRegistry
	table    map[templateKey]templateFunc
}

// NewTemplateLibrary creates a template library backed by the given registry.
func NewTemplateLibrary(registry *StepTypeRegistry) *TemplateLibrary {
	l := &TemplateLibrary{
		registry: registry,
		table:    make(map[templateKey]templateFunc),
	}

	l.register(DeploymentECS, AnyTopology, VariantStandard, ecsStandardTemplate)
	l.register(DeploymentECS, AnyTopology, VariantBlueGreen, ecsBlueGreenTemplate)
	l.register(DeploymentECS, AnyTopology, VariantBlueGreenRoute53, ecsRoute53Template)
	l.register(DeploymentKubernetes, AnyTopology, VariantStandard, kubernetesStandardTemplate)
	l.register(DeploymentKubernetes, AnyTopology, VariantCanary, kubernetesCanaryTemplate)
	l.register(DeploymentKubernetes, AnyTopology, VariantBlueGreen, kubernetesBlueGreenTemplate)
	l.register(DeploymentHelm, AnyTopology, VariantStandard, helmTemplate)
	l.register(DeploymentPCF, AnyTopology, VariantStandard, pcfStandardTemplate)
	l.register(DeploymentPCF, AnyTopology, VariantBlueGreen, pcfBlueGreenTemplate)
	l.register(DeploymentAMI, AnyTopology, VariantStandard, amiTemplate)
	l.register(DeploymentAMI, AnyTopology, VariantBlueGreen, amiTemplate)
	l.register(DeploymentAWSLambda, AnyTopology, VariantStandard, lambdaTemplate)
	l.register(DeploymentAWSCodeDeploy, AnyTopology, VariantStandard, codeDeployTemplate)
	l.register(DeploymentSSH, AnyTopology, VariantStandard, sshTemplate)

	return l
}

func (l *TemplateLibrary) register(dt DeploymentType, topology OrchestrationWorkflowType, variant Variant, fn templateFunc) {
	l.table[templateKey{deploymentType: dt, topology: topology, variant: variant}] = fn
}

func (l *TemplateLibrary) lookup(req TemplateRequest) (templateFunc, bool) {
	if fn, ok := l.table[templateKey{req.DeploymentType, req.Topology, req.Variant}]; ok {
		return fn, true
	}
	fn, ok := l.table[templateKey{req.DeploymentType, AnyTopology, req.Variant}]
	return fn, ok
}

// Registry returns the step type registry the library emits steps from.
func (l *TemplateLibrary) Registry() *StepTypeRegistry {
	return l.registry
}

// BuildForwardPhaseSteps returns the ordered forward phase-steps for a request.
// The same request always yields the same structure; only generated IDs differ.
func (l *TemplateLibrary) BuildForwardPhaseSteps(ctx context.Context, req TemplateRequest) ([]*PhaseStep, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.DeploymentType.Validate(); err != nil {
		return nil, NewConfigurationError("cannot build phase steps", err)
	}
	if req.Variant == "" {
		req.Variant = VariantStandard
	}
	if req.Variant.IsBlueGreen() {
		if err := checkBlueGreen(req); err != nil {
			return nil, err
		}
	}

	fn, ok := l.lookup(req)
	if !ok {
		return nil, NewConfigurationError(
			fmt.Sprintf("no phase template for deployment type %s, topology %s, variant %s",
				req.DeploymentType, req.Topology, req.Variant),
			nil,
		).WithOperation("build_phase_steps")
	}

	b := newSlotBuilder(l.registry, false)
	if err := fn(b, req); err != nil {
		return nil, err
	}
	return b.result()
}

func checkBlueGreen(req TemplateRequest) error {
	allowed, ok := blueGreenInfraTypes[req.DeploymentType]
	if !ok {
		return NewConfigurationError(
			fmt.Sprintf("blue/green is not supported for deployment type %s", req.DeploymentType), nil)
	}
	if req.Infra == nil || !containsString(allowed, req.Infra.Type) {
		infraType := ""
		if req.Infra != nil {
			infraType = req.Infra.Type
		}
		return NewConfigurationError(
			fmt.Sprintf("blue/green is not supported for infrastructure type %q", infraType), nil).
			WithDetail("deploymentType", string(req.DeploymentType))
	}
	if req.Variant == VariantBlueGreenRoute53 && req.DeploymentType != DeploymentECS {
		return NewConfigurationError("DNS weighted blue/green is only supported for ECS", nil)
	}
	if (req.DeploymentType == DeploymentKubernetes || req.DeploymentType == DeploymentPCF) &&
		(req.DaemonSet || req.StatefulSet) {
		return NewConfigurationError(
			fmt.Sprintf("blue/green is not supported for %s daemon sets or stateful sets", req.DeploymentType), nil)
	}
	return nil
}

type stepSpec struct {
	tag   string
	name  string
	props Properties
}

// slotBuilder accumulates phase-steps and remembers the first error.
type slotBuilder struct {
	registry *StepTypeRegistry
	rollback bool
	slots    []*PhaseStep
	err      error
}

func newSlotBuilder(registry *StepTypeRegistry, rollback bool) *slotBuilder {
	return &slotBuilder{registry: registry, rollback: rollback}
}

func (b *slotBuilder) add(t PhaseStepType, name string, specs ...stepSpec) *PhaseStep {
	if b.err != nil {
		return nil
	}
	if name == "" {
		name = t.DisplayName()
	}
	ps := &PhaseStep{
		ID:       uuid.New().String(),
		Type:     t,
		Name:     name,
		Steps:    make([]*Step, 0, len(specs)),
		Rollback: b.rollback,
	}
	for _, spec := range specs {
		step, err := b.registry.NewStep(spec.tag, spec.name, spec.props, b.rollback)
		if err != nil {
			b.err = err
			return nil
		}
		ps.Steps = append(ps.Steps, step)
	}
	b.slots = append(b.slots, ps)
	return ps
}

func (b *slotBuilder) verifyAndWrapUp(verifyName string, verify ...stepSpec) {
	b.add(PhaseStepVerifyService, verifyName, verify...)
	b.add(PhaseStepWrapUp, "")
}

func (b *slotBuilder) result() ([]*PhaseStep, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.slots, nil
}

func percentage(count int) Properties {
	return Properties{"instanceUnitType": "PERCENTAGE", "instanceCount": count}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
