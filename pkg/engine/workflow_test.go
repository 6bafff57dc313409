package engine

import (
	"encoding/json"
	"testing"
)

func TestOrchestrationWorkflow_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(wf *OrchestrationWorkflow)
		invariant bool
	}{
		{
			name: "duplicate IDs",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.Phases[1].PhaseSteps[0].ID = wf.Phases[0].PhaseSteps[0].ID
			},
		},
		{
			name: "missing rollback phase",
			mutate: func(wf *OrchestrationWorkflow) {
				delete(wf.RollbackByForwardPhaseID, wf.Phases[0].ID)
			},
			invariant: true,
		},
		{
			name: "rollback phase points elsewhere",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.RollbackByForwardPhaseID[wf.Phases[0].ID].RollbackOfPhaseID = wf.Phases[1].ID
			},
			invariant: true,
		},
		{
			name: "forward phase-step with guard",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.Phases[0].PhaseSteps[0].RollbackGuardStatus = StatusSuccess
			},
			invariant: true,
		},
		{
			name: "step flag mismatch",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.Phases[0].PhaseSteps[0].Steps[0].Rollback = true
			},
			invariant: true,
		},
		{
			name: "retry after retry",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.FailureStrategies = []FailureStrategy{{
					RepairActionCode:           RepairRetry,
					RetryCount:                 2,
					RepairActionCodeAfterRetry: RepairRetry,
				}}
			},
		},
		{
			name: "missing deployment type",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.Phases[1].DeploymentType = ""
			},
		},
		{
			name: "rollback deployment type mismatch",
			mutate: func(wf *OrchestrationWorkflow) {
				rb, _ := wf.RollbackPhaseFor(wf.Phases[0].ID)
				rb.DeploymentType = DeploymentHelm
			},
			invariant: true,
		},
		{
			name: "unknown failure type",
			mutate: func(wf *OrchestrationWorkflow) {
				wf.Phases[0].PhaseSteps[0].FailureStrategies = []FailureStrategy{{
					RepairActionCode: RepairIgnore,
					FailureTypes:     []FailureType{"DISK_FULL"},
				}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, _ := newTestWorkflow(t, TopologyBasic,
				[2]string{"svc-ecs", "infra-ecs"},
				[2]string{"svc-k8s", "infra-k8s"},
			)
			if err := wf.Validate(); err != nil {
				t.Fatalf("Expected valid workflow before mutation, got: %v", err)
			}
			tt.mutate(wf)

			err := wf.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if tt.invariant && !IsInvariantError(err) {
				t.Errorf("Expected invariant error, got %v", err)
			}
			if !tt.invariant && ErrorCode(err) != ErrCodeValidation {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestOrchestrationWorkflow_CheckVersion(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})

	if err := wf.CheckVersion(wf.Version); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	err := wf.CheckVersion(wf.Version - 1)
	if !IsConflict(err) {
		t.Errorf("Expected conflict error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("Expected conflict to be retryable")
	}
}

func TestOrchestrationWorkflow_RemovePhase(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic,
		[2]string{"svc-ecs", "infra-ecs"},
		[2]string{"svc-k8s", "infra-k8s"},
	)
	first, second := wf.Phases[0], wf.Phases[1]
	rb := wf.RollbackByForwardPhaseID[first.ID]
	version := wf.Version

	if err := wf.RemovePhase(first.ID); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(wf.Phases) != 1 || wf.Phases[0] != second {
		t.Fatal("Expected only the second phase to remain")
	}
	if wf.Phase(first.ID) != nil || wf.Phase(rb.ID) != nil {
		t.Error("Expected removed phases to be unindexed")
	}
	if wf.ForwardPhaseIndex(second.ID) != 0 {
		t.Errorf("Expected second phase at index 0, got %d", wf.ForwardPhaseIndex(second.ID))
	}
	if wf.Version != version+1 {
		t.Errorf("Expected version bump, got %d", wf.Version)
	}

	if err := wf.RemovePhase(first.ID); ErrorCode(err) != ErrCodeNotFound {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestOrchestrationWorkflow_UpdateStepProperties(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})
	step := wf.Phases[0].PhaseStepByType(PhaseStepContainerSetup).Steps[0]

	err := wf.UpdateStepProperties(step.ID, Properties{
		"resizeStrategy": nil,
		"maxInstances":   5,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := step.Properties["resizeStrategy"]; ok {
		t.Error("Expected nil value to remove the key")
	}
	if step.Properties["maxInstances"] != 5 {
		t.Errorf("Expected maxInstances 5, got %v", step.Properties["maxInstances"])
	}

	if err := wf.UpdateStepProperties("nope", Properties{"a": 1}); ErrorCode(err) != ErrCodeNotFound {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestOrchestrationWorkflow_Lookups(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic, [2]string{"svc-ecs", "infra-ecs"})
	phase := wf.Phases[0]
	ps := phase.PhaseSteps[0]
	st := ps.Steps[0]

	if wf.PhaseOfPhaseStep(ps.ID) != phase {
		t.Error("Expected phase-step to resolve to its phase")
	}
	if wf.PhaseStepOfStep(st.ID) != ps {
		t.Error("Expected step to resolve to its phase-step")
	}
	if wf.PhaseOfPhaseStep(wf.PreDeploymentSteps.ID) != nil {
		t.Error("Expected pre-deployment to have no phase")
	}
	if wf.PhaseStep(wf.PostDeploymentSteps.ID) != wf.PostDeploymentSteps {
		t.Error("Expected post-deployment to be indexed")
	}
	if wf.PhaseByName("Rollback Phase 1") != wf.RollbackByForwardPhaseID[phase.ID] {
		t.Error("Expected rollback phase by name")
	}
	if wf.ForwardPhaseIndex(wf.RollbackByForwardPhaseID[phase.ID].ID) != -1 {
		t.Error("Expected rollback phase to have no forward index")
	}
	if got := wf.DeploymentTypes(); len(got) != 1 || got[0] != DeploymentECS {
		t.Errorf("Expected [ECS], got %v", got)
	}
	if wf.HasSSHPhase() || wf.HasProvisioners() {
		t.Error("Expected no SSH phase and no provisioners")
	}
}

func TestOrchestrationWorkflow_UnmarshalReindexes(t *testing.T) {
	wf, _ := newTestWorkflow(t, TopologyBasic, [2]string{"svc-k8s", "infra-k8s"})
	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var decoded OrchestrationWorkflow
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	phaseID := wf.Phases[0].ID
	if decoded.Phase(phaseID) == nil {
		t.Fatal("Expected decoded workflow to be indexed")
	}
	rb, err := decoded.RollbackPhaseFor(phaseID)
	if err != nil {
		t.Fatalf("Expected rollback phase, got: %v", err)
	}
	if decoded.Phase(rb.ID) != rb {
		t.Error("Expected decoded rollback phase to be indexed")
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("Expected decoded workflow to validate, got: %v", err)
	}
}
