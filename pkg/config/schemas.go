package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. A schema is a CUE
// definition; data is valid when it unifies with the definition and is
// concrete.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// schemaFilename names the built-in schema source in error positions.
const schemaFilename = "schemas.cue"

// Built-in schema names.
const (
	SchemaWorkflow = "Workflow"
	SchemaPhase    = "Phase"
	SchemaStep     = "Step"
	SchemaStrategy = "FailureStrategy"
	SchemaOverlay  = "Overlay"
	SchemaCatalog  = "Catalog"
	SchemaService  = "Service"
	SchemaInfra    = "InfraTarget"
)

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	builtins := ctx.CompileString(builtinSchemas, cue.Filename(schemaFilename))
	if err := builtins.Err(); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}
	for _, name := range []string{
		SchemaWorkflow, SchemaPhase, SchemaStep, SchemaStrategy,
		SchemaOverlay, SchemaCatalog, SchemaService, SchemaInfra,
	} {
		sr.schemas[name] = builtins.LookupPath(cue.ParsePath("#" + name))
	}
	return sr
}

// RegisterSchema compiles source and registers the definition #name it
// declares. Sources without that definition are registered whole.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def := val.LookupPath(cue.ParsePath("#" + name)); def.Exists() {
		val = def
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes data and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	_, err := sr.Unify(schemaName, dataVal)
	return err
}

// Unify unifies a value with a named schema and checks the result is
// concrete. The unified value carries schema defaults.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, fmt.Errorf("validation failed: %w", err)
	}
	return unified, nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSchemas = `
#DeploymentType: "SSH" | "ECS" | "KUBERNETES" | "HELM" | "AWS_CODEDEPLOY" | "AWS_LAMBDA" | "AMI" | "PCF"

#Topology: "BASIC" | "ROLLING" | "CANARY" | "MULTI_SERVICE" | "BLUE_GREEN" | "BUILD" | "CUSTOM"

#RepairAction: "IGNORE" | "RETRY" | "MANUAL_INTERVENTION" | "ROLLBACK_PHASE" | "ROLLBACK_WORKFLOW" | "END_EXECUTION" | "ABORT_WORKFLOW_EXECUTION"

#FailureType: "CONNECTIVITY" | "AUTHENTICATION" | "VERIFICATION_FAILURE" | "APPLICATION_ERROR" | "DELEGATE_PROVISIONING" | "EXPIRED"

#Scope: "WORKFLOW" | "WORKFLOW_PHASE"

#Status: "NEW" | "QUEUED" | "STARTING" | "RUNNING" | "SUCCESS" | "FAILED" | "ERROR" | "ABORTED" | "PAUSED" | "WAITING" | "SKIPPED" | "REJECTED" | "EXPIRED"

#Tag: =~"^[A-Z][A-Z0-9_]*$"

#Workflow: {
	name:       string & !=""
	accountId?: string
	topology:   #Topology
	phases: [#Phase, ...#Phase]
	preDeploymentSteps?: [...#Step]
	postDeploymentSteps?: [...#Step]
	failureStrategies?: [...#FailureStrategy]
	notificationRules?: [...#NotificationRule]
	overlays?: [...#Overlay]
	variables?: {[string]: _}
	services?: [...#Service]
	infrastructure?: [...#InfraTarget]
}

#Phase: {
	name?:           string
	service:         string & !=""
	infra:           string & !=""
	deploymentType?: #DeploymentType
	variant?:        "STANDARD" | "BLUE_GREEN" | "BLUE_GREEN_ROUTE53" | "CANARY"
	skipSetup?:      bool
	failureStrategies?: [...#FailureStrategy]
}

#Step: {
	type:  #Tag
	name?: string
	properties?: {...}
}

#FailureStrategy: {
	failureTypes?: [...#FailureType]
	repairActionCode: #RepairAction
	retryCount?:      int & >=0
	retryIntervals?: [...(int & >=0)]
	repairActionCodeAfterRetry?: #RepairAction & !="RETRY"
	executionScope?:             #Scope
	specificSteps?: [...string]
}

#NotificationRule: {
	conditions: [#Status, ...#Status]
	executionScope: #Scope
	userGroupIds?: [...string]
}

#Overlay: {
	name?:          string
	stepType?:      #Tag
	phaseStepType?: #Tag
	rollback?:      bool
	script:         string & !=""
}

#Service: {
	id:             string & !=""
	name?:          string
	artifactType?:  string
	deploymentType: #DeploymentType
	commands?: {
		install?: [...string]
		disable?: [...string]
		enable?: [...string]
		stop?: [...string]
		verify?: [...string]
	}
	schedulingStrategy?: string
	serviceSpecJson?:    string
	daemonSet?:          bool
	statefulSet?:        bool
	artifactStreams?: [...string]
}

#InfraTarget: {
	id:                string & !=""
	type:              string & !=""
	computeProviderId?: string
	loadBalancerId?:   string
	clusterName?:      string
	dnsRouting?:       bool
}

#Catalog: {
	services?: [...#Service]
	infrastructure?: [...#InfraTarget]
}
`
