package config

import (
	"context"
	"testing"

	"github.com/openfroyo/phasekit/pkg/engine"
)

const catalogYAML = `
services:
  - id: svc-api
    artifactType: DOCKER
    deploymentType: KUBERNETES
  - id: svc-legacy
    name: legacy
    artifactType: WAR
    deploymentType: SSH
    commands:
      install: [Install]
infrastructure:
  - id: infra-eks
    type: DIRECT_KUBERNETES
    computeProviderId: k8s
`

const catalogCUE = `
services: [{
	id:             "svc-web"
	artifactType:   "DOCKER"
	deploymentType: "ECS"
}]
infrastructure: [{
	id:   "infra-ecs"
	type: "AWS_ECS"
}]
`

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "catalog.yaml", catalogYAML)
	cuePath := writeFile(t, dir, "catalog.cue", catalogCUE)

	c, err := LoadCatalog(yamlPath, cuePath)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ids := c.ServiceIDs()
	if len(ids) != 3 || ids[0] != "svc-api" || ids[2] != "svc-web" {
		t.Errorf("Expected sorted service IDs, got %v", ids)
	}

	ctx := context.Background()
	svc, err := c.GetService(ctx, "svc-api")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if svc.Name != "svc-api" {
		t.Errorf("Expected name to default to the ID, got %s", svc.Name)
	}
	legacy, _ := c.GetService(ctx, "svc-legacy")
	if legacy == nil || len(legacy.Commands.Install) != 1 {
		t.Errorf("Expected install commands, got %+v", legacy)
	}

	web, err := c.GetService(ctx, "svc-web")
	if err != nil || web.DeploymentType != engine.DeploymentECS {
		t.Errorf("Expected ECS service from CUE catalog, got %+v (%v)", web, err)
	}
	infra, err := c.GetInfraTarget(ctx, "infra-ecs")
	if err != nil || infra.Type != engine.InfraAWSECS {
		t.Errorf("Expected ECS infrastructure from CUE catalog, got %+v (%v)", infra, err)
	}
}

func TestLoadCatalog_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown deployment type", file: "a.yaml", content: "services: [{id: x, deploymentType: MAINFRAME}]"},
		{name: "missing id", file: "b.yaml", content: "services: [{deploymentType: SSH}]"},
		{name: "infrastructure without type", file: "c.yaml", content: "infrastructure: [{id: i}]"},
		{name: "malformed yaml", file: "d.yaml", content: "services: [{"},
		{name: "cue schema violation", file: "e.cue", content: `services: [{id: "x", deploymentType: "MAINFRAME"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			if _, err := LoadCatalog(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	if _, err := LoadCatalog(dir + "/missing.yaml"); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestCatalog_LookupCopiesAndNotFound(t *testing.T) {
	c := NewCatalog()
	err := c.Add(
		[]engine.ServiceSpec{{ID: "svc-1", DeploymentType: engine.DeploymentHelm}},
		[]engine.InfraTarget{{ID: "infra-1", Type: engine.InfraGCPKubernetes}},
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx := context.Background()
	svc, _ := c.GetService(ctx, "svc-1")
	svc.Name = "mutated"
	again, _ := c.GetService(ctx, "svc-1")
	if again.Name != "svc-1" {
		t.Errorf("Expected lookups to return copies, got name %s", again.Name)
	}

	_, err = c.GetService(ctx, "nope")
	if engine.ErrorCode(err) != engine.ErrCodeNotFound {
		t.Errorf("Expected not found error, got %v", err)
	}
	if _, err := c.GetInfraTarget(ctx, "nope"); err == nil {
		t.Error("Expected error for unknown infrastructure, got nil")
	}
}

func TestCatalog_With(t *testing.T) {
	base := NewCatalog()
	_ = base.Add([]engine.ServiceSpec{
		{ID: "svc-1", Name: "base", DeploymentType: engine.DeploymentSSH},
		{ID: "svc-2", DeploymentType: engine.DeploymentECS},
	}, nil)

	def := &WorkflowDefinition{
		Services: []engine.ServiceSpec{{ID: "svc-1", Name: "inline", DeploymentType: engine.DeploymentKubernetes}},
	}
	merged, err := base.With(def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx := context.Background()
	svc, _ := merged.GetService(ctx, "svc-1")
	if svc.Name != "inline" || svc.DeploymentType != engine.DeploymentKubernetes {
		t.Errorf("Expected inline entry to win, got %+v", svc)
	}
	if _, err := merged.GetService(ctx, "svc-2"); err != nil {
		t.Errorf("Expected base entry to remain, got: %v", err)
	}
	orig, _ := base.GetService(ctx, "svc-1")
	if orig.Name != "base" {
		t.Errorf("Expected base catalog unchanged, got %s", orig.Name)
	}

	var nilCatalog *Catalog
	only, err := nilCatalog.With(def)
	if err != nil || len(only.ServiceIDs()) != 1 {
		t.Errorf("Expected nil catalog to hold inline entries only, got %v (%v)", only.ServiceIDs(), err)
	}
}
