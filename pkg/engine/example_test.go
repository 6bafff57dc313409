package engine_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/phasekit/pkg/engine"
)

type staticLookup struct {
	services map[string]*engine.ServiceSpec
	infra    map[string]*engine.InfraTarget
}

func (l staticLookup) GetService(_ context.Context, id string) (*engine.ServiceSpec, error) {
	if svc, ok := l.services[id]; ok {
		return svc, nil
	}
	return nil, fmt.Errorf("service %s not found", id)
}

func (l staticLookup) GetInfraTarget(_ context.Context, id string) (*engine.InfraTarget, error) {
	if infra, ok := l.infra[id]; ok {
		return infra, nil
	}
	return nil, fmt.Errorf("infrastructure target %s not found", id)
}

func exampleLookup() staticLookup {
	return staticLookup{
		services: map[string]*engine.ServiceSpec{
			"svc-api": {ID: "svc-api", Name: "api", ArtifactType: "DOCKER", DeploymentType: engine.DeploymentKubernetes},
		},
		infra: map[string]*engine.InfraTarget{
			"infra-eks": {ID: "infra-eks", Type: engine.InfraDirectKubernetes, ComputeProviderID: "eks"},
		},
	}
}

func slotNames(p *engine.WorkflowPhase) string {
	names := make([]string, 0, len(p.PhaseSteps))
	for _, ps := range p.PhaseSteps {
		names = append(names, ps.Name)
	}
	return strings.Join(names, ", ")
}

// Example_attachPhase builds a canary workflow with one Kubernetes phase and
// prints the forward phase and its synthesized rollback.
func Example_attachPhase() {
	registry := engine.NewStepTypeRegistry()
	builder := engine.NewPhaseBuilder(exampleLookup(),
		engine.NewTemplateLibrary(registry),
		engine.NewSynthesizer(registry))

	wf := engine.NewOrchestrationWorkflow("api-canary", engine.TopologyCanary)
	phase, err := builder.AttachPhase(context.Background(), wf, engine.PhaseRequest{
		ServiceID:     "svc-api",
		InfraTargetID: "infra-eks",
	})
	if err != nil {
		panic(err)
	}
	rollback, _ := wf.RollbackPhaseFor(phase.ID)

	fmt.Printf("%s: %s\n", phase.Name, slotNames(phase))
	fmt.Printf("%s: %s\n", rollback.Name, slotNames(rollback))

	// Output:
	// Phase 1: Setup Container, Scale 50%, Scale 100%, Verify Service, Wrap Up
	// Rollback Phase 1: Rollback Containers, Rollback Container Setup, Verify Service, Wrap Up
}

// Example_advisor shows the advice for a failing step under a RETRY strategy.
func Example_advisor() {
	registry := engine.NewStepTypeRegistry()
	builder := engine.NewPhaseBuilder(exampleLookup(),
		engine.NewTemplateLibrary(registry),
		engine.NewSynthesizer(registry))

	wf := engine.NewOrchestrationWorkflow("api", engine.TopologyBasic)
	phase, _ := builder.AttachPhase(context.Background(), wf, engine.PhaseRequest{
		ServiceID:     "svc-api",
		InfraTargetID: "infra-eks",
	})
	wf.FailureStrategies = []engine.FailureStrategy{{
		RepairActionCode:           engine.RepairRetry,
		RetryCount:                 3,
		RetryIntervals:             []int{10, 30},
		RepairActionCodeAfterRetry: engine.RepairRollbackWorkflow,
	}}

	deploy := phase.PhaseStepByType(engine.PhaseStepContainerDeploy)
	advice, err := engine.NewAdvisor().OnExecutionEvent(context.Background(), &engine.ExecutionEvent{
		ExecutionID:   "exec-1",
		StateID:       deploy.Steps[0].ID,
		ParentStateID: deploy.ID,
		PhaseID:       phase.ID,
		StateType:     engine.StateType(deploy.Steps[0].Type),
		Status:        engine.StatusFailed,
		FailureTypes:  []engine.FailureType{engine.FailureApplicationError},
		Workflow:      wf,
	})
	if err != nil {
		panic(err)
	}

	fmt.Println(advice.InterruptType, advice.WaitIntervalSeconds)

	// Output:
	// RETRY 10
}
