package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func buildForward(t *testing.T, name string, req TemplateRequest) *WorkflowPhase {
	t.Helper()
	lib := NewTemplateLibrary(NewStepTypeRegistry())
	slots, err := lib.BuildForwardPhaseSteps(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected no error building %s, got: %v", name, err)
	}
	variant := req.Variant
	if variant == "" {
		variant = VariantStandard
	}
	return &WorkflowPhase{
		ID:             "fwd-" + strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Name:           name,
		DeploymentType: req.DeploymentType,
		Variant:        variant,
		DaemonSet:      req.DaemonSet,
		StatefulSet:    req.StatefulSet,
		PhaseSteps:     slots,
	}
}

func TestSynthesizer_KubernetesStandard(t *testing.T) {
	forward := buildForward(t, "Phase 1", NewTemplateRequest(TopologyBasic,
		&ServiceSpec{DeploymentType: DeploymentKubernetes}, &InfraTarget{Type: InfraDirectKubernetes}))

	rb, err := NewSynthesizer(NewStepTypeRegistry()).SynthesizeRollback(forward, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rb.Name != "Rollback Phase 1" {
		t.Errorf("Expected name 'Rollback Phase 1', got %s", rb.Name)
	}
	if !rb.Rollback || rb.RollbackOfPhaseID != forward.ID || rb.RollbackOfPhaseName != "Phase 1" {
		t.Errorf("Expected rollback reference to %s, got %+v", forward.ID, rb)
	}

	want := []PhaseStepType{PhaseStepContainerDeploy, PhaseStepContainerSetup, PhaseStepVerifyService, PhaseStepWrapUp}
	if got := slotTypes(rb.PhaseSteps); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected slots %v, got %v", want, got)
	}
	if rb.PhaseSteps[0].Name != "Rollback Containers" || rb.PhaseSteps[1].Name != "Rollback Container Setup" {
		t.Errorf("Expected rollback slot names, got %s/%s", rb.PhaseSteps[0].Name, rb.PhaseSteps[1].Name)
	}

	deploy := forward.PhaseStepByType(PhaseStepContainerDeploy)
	setup := forward.PhaseStepByType(PhaseStepContainerSetup)
	guards := map[PhaseStepType]string{
		PhaseStepContainerDeploy: deploy.ID,
		PhaseStepContainerSetup:  setup.ID,
		PhaseStepVerifyService:   deploy.ID,
		PhaseStepWrapUp:          deploy.ID,
	}
	for _, ps := range rb.PhaseSteps {
		if !ps.Rollback {
			t.Errorf("Expected %s to be a rollback phase-step", ps.Type)
		}
		if ps.RollbackGuardStepID != guards[ps.Type] {
			t.Errorf("Expected %s guarded on %s, got %s", ps.Type, guards[ps.Type], ps.RollbackGuardStepID)
		}
		if ps.RollbackGuardStatus != StatusSuccess {
			t.Errorf("Expected %s guard status SUCCESS, got %s", ps.Type, ps.RollbackGuardStatus)
		}
		for _, st := range ps.Steps {
			if !st.Rollback {
				t.Errorf("Expected rollback step in %s", ps.Type)
			}
		}
	}
	if got := stepTags(rb.PhaseSteps[0]); !reflect.DeepEqual(got, []string{StepKubernetesDeployRollback}) {
		t.Errorf("Expected kubernetes deploy rollback, got %v", got)
	}
}

func TestSynthesizer_ECSDaemon(t *testing.T) {
	synth := NewSynthesizer(NewStepTypeRegistry())
	infra := &InfraTarget{Type: InfraAWSECS}

	regular := buildForward(t, "Phase 1", NewTemplateRequest(TopologyBasic,
		&ServiceSpec{DeploymentType: DeploymentECS}, infra))
	rb, err := synth.SynthesizeRollback(regular, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []PhaseStepType{PhaseStepContainerDeploy, PhaseStepVerifyService, PhaseStepWrapUp}
	if got := slotTypes(rb.PhaseSteps); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected slots %v, got %v", want, got)
	}

	daemon := buildForward(t, "Phase 1", NewTemplateRequest(TopologyBasic,
		&ServiceSpec{DeploymentType: DeploymentECS, SchedulingStrategy: "DAEMON"}, infra))
	rb, err = synth.SynthesizeRollback(daemon, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want = []PhaseStepType{PhaseStepContainerSetup, PhaseStepVerifyService, PhaseStepWrapUp}
	if got := slotTypes(rb.PhaseSteps); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected slots %v, got %v", want, got)
	}
	setup := daemon.PhaseStepByType(PhaseStepContainerSetup)
	if rb.PhaseSteps[1].RollbackGuardStepID != setup.ID {
		t.Error("Expected verify guarded on setup when the phase has no deploy slot")
	}
}

func TestSynthesizer_SSH(t *testing.T) {
	svc := &ServiceSpec{
		DeploymentType: DeploymentSSH,
		Commands: ServiceCommands{
			Install: []string{"Install"},
			Stop:    []string{"Stop"},
		},
	}
	forward := buildForward(t, "Phase 1", NewTemplateRequest(TopologyBasic, svc, &InfraTarget{Type: InfraAWSSSH}))

	rb, err := NewSynthesizer(NewStepTypeRegistry()).SynthesizeRollback(forward, svc)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []PhaseStepType{PhaseStepDisableService, PhaseStepStopService, PhaseStepDeployService,
		PhaseStepEnableService, PhaseStepVerifyService, PhaseStepWrapUp}
	if got := slotTypes(rb.PhaseSteps); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected slots %v, got %v", want, got)
	}

	stop := rb.PhaseSteps[1]
	if len(stop.Steps) != 1 || stop.Steps[0].Name != "Stop" {
		t.Errorf("Expected stop command step, got %v", stepTags(stop))
	}
	if stop.RollbackGuardStepType != PhaseStepDeployService {
		t.Errorf("Expected stop guarded on deploy, got %s", stop.RollbackGuardStepType)
	}
	if rb.PhaseSteps[0].RollbackGuardStepType != PhaseStepEnableService {
		t.Errorf("Expected disable guarded on enable, got %s", rb.PhaseSteps[0].RollbackGuardStepType)
	}

	fwdInstall := forward.PhaseStepByType(PhaseStepDeployService).Steps[0]
	rbInstall := rb.PhaseSteps[2].Steps[0]
	if rbInstall.ID == fwdInstall.ID {
		t.Error("Expected copied step to get a new ID")
	}
	if rbInstall.Name != fwdInstall.Name || !rbInstall.Rollback {
		t.Errorf("Expected rollback copy of %s, got %+v", fwdInstall.Name, rbInstall)
	}
}

func TestSynthesizer_SelectNodesOnly(t *testing.T) {
	registry := NewStepTypeRegistry()
	step, _ := registry.NewStep(StepAWSNodeSelect, "", nil, false)
	forward := &WorkflowPhase{
		ID:             "p1",
		Name:           "Phase 1",
		DeploymentType: DeploymentSSH,
		PhaseSteps: []*PhaseStep{
			{ID: "ps1", Type: PhaseStepSelectNodes, Name: "Select Nodes", Steps: []*Step{step}},
		},
	}

	rb, err := NewSynthesizer(registry).SynthesizeRollback(forward, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(rb.PhaseSteps) != 0 {
		t.Errorf("Expected no rollback phase-steps, got %v", slotTypes(rb.PhaseSteps))
	}
}

func TestSynthesizer_Errors(t *testing.T) {
	synth := NewSynthesizer(NewStepTypeRegistry())

	_, err := synth.SynthesizeRollback(&WorkflowPhase{ID: "rb", Rollback: true, DeploymentType: DeploymentHelm}, nil)
	if !IsPermanent(err) || ErrorCode(err) != ErrCodeValidation {
		t.Errorf("Expected validation error for rollback of rollback, got %v", err)
	}

	_, err = synth.SynthesizeRollback(nil, nil)
	if err == nil {
		t.Error("Expected error for nil phase, got nil")
	}

	_, err = synth.SynthesizeRollback(&WorkflowPhase{ID: "p", DeploymentType: DeploymentHelm, Variant: VariantCanary}, nil)
	if !IsConfigurationError(err) {
		t.Errorf("Expected configuration error for missing table, got %v", err)
	}
}
