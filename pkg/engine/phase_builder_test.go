package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeLookup struct {
	services map[string]*ServiceSpec
	infra    map[string]*InfraTarget
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		services: map[string]*ServiceSpec{
			"svc-ecs": {ID: "svc-ecs", Name: "web", ArtifactType: "DOCKER", DeploymentType: DeploymentECS},
			"svc-k8s": {ID: "svc-k8s", Name: "api", ArtifactType: "DOCKER", DeploymentType: DeploymentKubernetes},
			"svc-ssh": {ID: "svc-ssh", Name: "legacy", ArtifactType: "WAR", DeploymentType: DeploymentSSH,
				Commands: ServiceCommands{Install: []string{"Install"}, Stop: []string{"Stop"}}},
			"svc-pcf": {ID: "svc-pcf", Name: "app", ArtifactType: "PCF", DeploymentType: DeploymentPCF},
		},
		infra: map[string]*InfraTarget{
			"infra-ecs": {ID: "infra-ecs", Type: InfraAWSECS, ComputeProviderID: "aws"},
			"infra-k8s": {ID: "infra-k8s", Type: InfraDirectKubernetes, ComputeProviderID: "k8s"},
			"infra-dc1": {ID: "infra-dc1", Type: InfraPhysicalDataCenter, ComputeProviderID: "dc"},
			"infra-dc2": {ID: "infra-dc2", Type: InfraPhysicalDataCenter, ComputeProviderID: "dc"},
			"infra-pcf": {ID: "infra-pcf", Type: InfraPCF, ComputeProviderID: "pcf"},
		},
	}
}

func (f *fakeLookup) GetService(_ context.Context, id string) (*ServiceSpec, error) {
	if svc, ok := f.services[id]; ok {
		return svc, nil
	}
	return nil, NewPermanentError("service not found", nil).WithCode(ErrCodeNotFound).WithResource(id)
}

func (f *fakeLookup) GetInfraTarget(_ context.Context, id string) (*InfraTarget, error) {
	if infra, ok := f.infra[id]; ok {
		return infra, nil
	}
	return nil, NewPermanentError("infrastructure target not found", nil).WithCode(ErrCodeNotFound).WithResource(id)
}

func newTestBuilder() *PhaseBuilder {
	registry := NewStepTypeRegistry()
	return NewPhaseBuilder(newFakeLookup(), NewTemplateLibrary(registry), NewSynthesizer(registry))
}

// newTestWorkflow builds a workflow with one phase per service/infra pair.
func newTestWorkflow(t *testing.T, topology OrchestrationWorkflowType, pairs ...[2]string) (*OrchestrationWorkflow, *PhaseBuilder) {
	t.Helper()
	b := newTestBuilder()
	wf := NewOrchestrationWorkflow("test", topology)
	for _, pair := range pairs {
		if _, err := b.AttachPhase(context.Background(), wf, PhaseRequest{ServiceID: pair[0], InfraTargetID: pair[1]}); err != nil {
			t.Fatalf("Expected no error attaching %v, got: %v", pair, err)
		}
	}
	return wf, b
}

func TestPhaseBuilder_AttachPhase(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic,
		[2]string{"svc-ecs", "infra-ecs"},
		[2]string{"svc-k8s", "infra-k8s"},
	)

	if len(wf.Phases) != 2 {
		t.Fatalf("Expected 2 phases, got %d", len(wf.Phases))
	}
	if wf.Phases[0].Name != "Phase 1" || wf.Phases[1].Name != "Phase 2" {
		t.Errorf("Expected default names, got %s/%s", wf.Phases[0].Name, wf.Phases[1].Name)
	}
	if wf.Version != 2 {
		t.Errorf("Expected version 2, got %d", wf.Version)
	}

	p := wf.Phases[1]
	if p.DeploymentType != DeploymentKubernetes || p.Variant != VariantStandard {
		t.Errorf("Expected KUBERNETES/STANDARD, got %s/%s", p.DeploymentType, p.Variant)
	}
	if p.ComputeProviderID != "k8s" {
		t.Errorf("Expected compute provider from infra, got %s", p.ComputeProviderID)
	}

	rb, err := wf.RollbackPhaseFor(p.ID)
	if err != nil {
		t.Fatalf("Expected rollback phase, got: %v", err)
	}
	if rb.Name != "Rollback Phase 2" {
		t.Errorf("Expected 'Rollback Phase 2', got %s", rb.Name)
	}
	if wf.Phase(rb.ID) != rb {
		t.Error("Expected rollback phase to be indexed")
	}
	if err := wf.Validate(); err != nil {
		t.Errorf("Expected valid workflow, got: %v", err)
	}
}

func TestPhaseBuilder_AttachPhaseRolling(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyRolling, [2]string{"svc-ssh", "infra-dc1"})

	if wf.Phases[0].Name != "Rolling Phase 1" {
		t.Errorf("Expected 'Rolling Phase 1', got %s", wf.Phases[0].Name)
	}
	sel := wf.Phases[0].PhaseStepByType(PhaseStepSelectNodes)
	if sel == nil || sel.Steps[0].Type != StepRollingNodeSelect {
		t.Error("Expected rolling node selection")
	}
}

func TestPhaseBuilder_AttachPhaseFailureLeavesWorkflow(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBlueGreen, [2]string{"svc-ecs", "infra-ecs"})
	version := wf.Version

	_, err := b.AttachPhase(context.Background(), wf, PhaseRequest{ServiceID: "svc-ecs", InfraTargetID: "infra-k8s"})
	if !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if len(wf.Phases) != 1 || len(wf.RollbackByForwardPhaseID) != 1 {
		t.Errorf("Expected workflow unchanged, got %d phases", len(wf.Phases))
	}
	if wf.Version != version {
		t.Errorf("Expected version %d, got %d", version, wf.Version)
	}

	_, err = b.AttachPhase(context.Background(), wf, PhaseRequest{ServiceID: "missing", InfraTargetID: "infra-ecs"})
	if err == nil {
		t.Error("Expected error for unknown service, got nil")
	}
}

func TestPhaseBuilder_RegeneratePhaseInfraOnly(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ssh", "infra-dc1"})
	phase := wf.Phases[0]
	sel := phase.PhaseStepByType(PhaseStepSelectNodes).Steps[0]
	if err := wf.UpdateStepProperties(sel.ID, Properties{"specificHosts": true, "hostNames": []interface{}{"h1"}}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	updated, err := b.RegeneratePhase(context.Background(), wf, phase.ID, PhaseRequest{InfraTargetID: "infra-dc2"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated.ID != phase.ID || updated.InfraTargetID != "infra-dc2" {
		t.Errorf("Expected same phase on infra-dc2, got %s on %s", updated.ID, updated.InfraTargetID)
	}

	newSel := updated.PhaseStepByType(PhaseStepSelectNodes).Steps[0]
	if newSel.ID != sel.ID {
		t.Error("Expected steps to be kept when only the infrastructure target changes")
	}
	if newSel.Properties["specificHosts"] != false {
		t.Errorf("Expected specificHosts reset, got %v", newSel.Properties["specificHosts"])
	}
	if _, ok := newSel.Properties["hostNames"]; ok {
		t.Error("Expected hostNames cleared")
	}
	if wf.Step(sel.ID) != newSel {
		t.Error("Expected index to point at the updated step")
	}
}

func TestPhaseBuilder_RegeneratePhaseReshape(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})
	phase := wf.Phases[0]
	oldRollback := wf.RollbackByForwardPhaseID[phase.ID]

	updated, err := b.RegeneratePhase(context.Background(), wf, phase.ID,
		PhaseRequest{ServiceID: "svc-k8s", InfraTargetID: "infra-k8s"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated.ID != phase.ID {
		t.Error("Expected phase ID to survive regeneration")
	}
	if updated.DeploymentType != DeploymentKubernetes {
		t.Errorf("Expected KUBERNETES, got %s", updated.DeploymentType)
	}
	if updated.PhaseStepByType(PhaseStepContainerDeploy).Steps[0].Type != StepKubernetesDeploy {
		t.Error("Expected kubernetes deploy step after regeneration")
	}
	rb := wf.RollbackByForwardPhaseID[phase.ID]
	if rb == oldRollback || rb.DeploymentType != DeploymentKubernetes {
		t.Error("Expected rollback phase to be resynthesized")
	}
	if err := wf.Validate(); err != nil {
		t.Errorf("Expected valid workflow, got: %v", err)
	}
}

func TestPhaseBuilder_RegeneratePhaseUnreadableOldInfra(t *testing.T) {
	var buf bytes.Buffer
	lookup := newFakeLookup()
	registry := NewStepTypeRegistry()
	b := NewPhaseBuilder(lookup, NewTemplateLibrary(registry), NewSynthesizer(registry),
		WithBuilderLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	wf := NewOrchestrationWorkflow("test", TopologyBasic)
	phase, err := b.AttachPhase(context.Background(), wf, PhaseRequest{ServiceID: "svc-ssh", InfraTargetID: "infra-dc1"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	oldSel := phase.PhaseStepByType(PhaseStepSelectNodes).Steps[0]
	delete(lookup.infra, "infra-dc1")

	updated, err := b.RegeneratePhase(context.Background(), wf, phase.ID, PhaseRequest{InfraTargetID: "infra-dc2"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if updated.InfraTargetID != "infra-dc2" {
		t.Errorf("Expected infra-dc2, got %s", updated.InfraTargetID)
	}
	if updated.PhaseStepByType(PhaseStepSelectNodes).Steps[0].ID == oldSel.ID {
		t.Error("Expected the phase to be rebuilt when the old target cannot be read")
	}
	if !strings.Contains(buf.String(), "infrastructure target not found") {
		t.Errorf("Expected the lookup error in the debug log, got %q", buf.String())
	}
	if err := wf.Validate(); err != nil {
		t.Errorf("Expected valid workflow, got: %v", err)
	}
}

func TestPhaseBuilder_RegeneratePhaseErrors(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})

	_, err := b.RegeneratePhase(context.Background(), wf, "nope", PhaseRequest{})
	if ErrorCode(err) != ErrCodeNotFound {
		t.Errorf("Expected not found, got %v", err)
	}

	_, err = b.RegeneratePhase(context.Background(), wf, wf.Phases[0].ID, PhaseRequest{ServiceID: "svc-ssh", InfraTargetID: "infra-dc1"})
	if !IsConfigurationError(err) {
		t.Errorf("Expected configuration error for incompatible artifact type, got %v", err)
	}
}

func TestPhaseBuilder_EnsureArtifactCheck(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-pcf", "infra-pcf"})

	for i := 0; i < 2; i++ {
		if err := b.EnsureArtifactCheck(wf); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	count := 0
	for _, st := range wf.PreDeploymentSteps.Steps {
		if st.Type == StepArtifactCheck {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one artifact check, got %d", count)
	}

	ecs, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})
	if err := b.EnsureArtifactCheck(ecs); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(ecs.PreDeploymentSteps.Steps) != 0 {
		t.Error("Expected no artifact check for container-only workflow")
	}
}

func TestPhaseBuilder_EnsureRollbackProvisioners(t *testing.T) {
	wf, b := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})
	registry := NewStepTypeRegistry()
	cf, _ := registry.NewStep(StepCloudFormationCreateStack, "Create VPC", Properties{"provisionerId": "vpc"}, false)
	cmd, _ := registry.NewStep(StepCommand, "Notify", nil, false)
	wf.PreDeploymentSteps.Steps = append(wf.PreDeploymentSteps.Steps, cf, cmd)
	wf.Reindex()

	if err := b.EnsureRollbackProvisioners(wf); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ps := wf.RollbackProvisioners
	if ps == nil || !ps.Rollback {
		t.Fatal("Expected rollback provisioners phase-step")
	}
	if len(ps.Steps) != 1 {
		t.Fatalf("Expected 1 rollback provisioner, got %d", len(ps.Steps))
	}
	st := ps.Steps[0]
	if st.Type != StepCloudFormationRollbackStack || st.Name != "Rollback Create VPC" {
		t.Errorf("Expected CloudFormation rollback, got %s %q", st.Type, st.Name)
	}
	if st.Properties["provisionerId"] != "vpc" {
		t.Errorf("Expected provisioner reference, got %v", st.Properties["provisionerId"])
	}
	if wf.PhaseStep(ps.ID) != ps {
		t.Error("Expected rollback provisioners to be indexed")
	}

	id := ps.ID
	if err := b.EnsureRollbackProvisioners(wf); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if wf.RollbackProvisioners.ID != id {
		t.Error("Expected rollback provisioners ID to be stable")
	}

	wf.PreDeploymentSteps.Steps = []*Step{cmd}
	if err := b.EnsureRollbackProvisioners(wf); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if wf.RollbackProvisioners != nil {
		t.Error("Expected rollback provisioners removed")
	}
}
