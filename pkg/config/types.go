package config

import (
	"time"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// WorkflowDefinition is a declarative orchestration workflow as written in a
// CUE or YAML definition file. Builder turns it into an engine aggregate.
type WorkflowDefinition struct {
	// Name is the workflow name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// AccountID scopes the workflow to an account.
	AccountID string `json:"accountId,omitempty" yaml:"accountId,omitempty"`

	// Topology is the orchestration workflow type.
	Topology string `json:"topology" yaml:"topology" validate:"required,oneof=BASIC ROLLING CANARY MULTI_SERVICE BLUE_GREEN BUILD CUSTOM"`

	// Phases are the forward phases in execution order.
	Phases []PhaseDefinition `json:"phases" yaml:"phases" validate:"required,min=1,dive"`

	// PreDeploymentSteps run before the first phase.
	PreDeploymentSteps []StepDefinition `json:"preDeploymentSteps,omitempty" yaml:"preDeploymentSteps,omitempty" validate:"dive"`

	// PostDeploymentSteps run after the last phase.
	PostDeploymentSteps []StepDefinition `json:"postDeploymentSteps,omitempty" yaml:"postDeploymentSteps,omitempty" validate:"dive"`

	FailureStrategies []StrategyDefinition         `json:"failureStrategies,omitempty" yaml:"failureStrategies,omitempty" validate:"dive"`
	NotificationRules []NotificationRuleDefinition `json:"notificationRules,omitempty" yaml:"notificationRules,omitempty" validate:"dive"`

	// Overlays are Starlark scripts applied to generated steps.
	Overlays []OverlayDefinition `json:"overlays,omitempty" yaml:"overlays,omitempty" validate:"dive"`

	// Variables are exposed to overlay scripts as "variables".
	Variables map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Services and Infrastructure are inline catalog entries. They take
	// precedence over entries of the same ID in an external catalog.
	Services       []engine.ServiceSpec `json:"services,omitempty" yaml:"services,omitempty"`
	Infrastructure []engine.InfraTarget `json:"infrastructure,omitempty" yaml:"infrastructure,omitempty"`
}

// PhaseDefinition declares one forward phase.
type PhaseDefinition struct {
	// Name defaults to "Phase N" or "Rolling Phase N".
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Service is the service ID.
	Service string `json:"service" yaml:"service" validate:"required"`

	// Infra is the infrastructure target ID.
	Infra string `json:"infra" yaml:"infra" validate:"required"`

	// DeploymentType overrides the service's deployment type.
	DeploymentType string `json:"deploymentType,omitempty" yaml:"deploymentType,omitempty" validate:"omitempty,oneof=SSH ECS KUBERNETES HELM AWS_CODEDEPLOY AWS_LAMBDA AMI PCF"`

	// Variant pins the template variant.
	Variant string `json:"variant,omitempty" yaml:"variant,omitempty" validate:"omitempty,oneof=STANDARD BLUE_GREEN BLUE_GREEN_ROUTE53 CANARY"`

	SkipSetup bool `json:"skipSetup,omitempty" yaml:"skipSetup,omitempty"`

	// FailureStrategies apply to every forward phase-step of the phase.
	FailureStrategies []StrategyDefinition `json:"failureStrategies,omitempty" yaml:"failureStrategies,omitempty" validate:"dive"`
}

// StepDefinition declares a pre- or post-deployment step.
type StepDefinition struct {
	// Type is the registered action tag.
	Type       string                 `json:"type" yaml:"type" validate:"required"`
	Name       string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// StrategyDefinition declares a failure strategy.
type StrategyDefinition struct {
	FailureTypes     []string `json:"failureTypes,omitempty" yaml:"failureTypes,omitempty" validate:"dive,oneof=CONNECTIVITY AUTHENTICATION VERIFICATION_FAILURE APPLICATION_ERROR DELEGATE_PROVISIONING EXPIRED"`
	RepairActionCode string   `json:"repairActionCode" yaml:"repairActionCode" validate:"required,oneof=IGNORE RETRY MANUAL_INTERVENTION ROLLBACK_PHASE ROLLBACK_WORKFLOW END_EXECUTION ABORT_WORKFLOW_EXECUTION"`
	RetryCount       int      `json:"retryCount,omitempty" yaml:"retryCount,omitempty" validate:"gte=0"`
	RetryIntervals   []int    `json:"retryIntervals,omitempty" yaml:"retryIntervals,omitempty" validate:"dive,gte=0"`

	// RepairActionCodeAfterRetry is applied once the retry budget is spent.
	RepairActionCodeAfterRetry string `json:"repairActionCodeAfterRetry,omitempty" yaml:"repairActionCodeAfterRetry,omitempty" validate:"omitempty,notretry,oneof=IGNORE MANUAL_INTERVENTION ROLLBACK_PHASE ROLLBACK_WORKFLOW END_EXECUTION ABORT_WORKFLOW_EXECUTION"`

	ExecutionScope string   `json:"executionScope,omitempty" yaml:"executionScope,omitempty" validate:"omitempty,oneof=WORKFLOW WORKFLOW_PHASE"`
	SpecificSteps  []string `json:"specificSteps,omitempty" yaml:"specificSteps,omitempty"`
}

// NotificationRuleDefinition declares a notification rule.
type NotificationRuleDefinition struct {
	Conditions     []string `json:"conditions" yaml:"conditions" validate:"required,min=1,dive,oneof=NEW QUEUED STARTING RUNNING SUCCESS FAILED ERROR ABORTED PAUSED WAITING SKIPPED REJECTED EXPIRED"`
	ExecutionScope string   `json:"executionScope" yaml:"executionScope" validate:"required,oneof=WORKFLOW WORKFLOW_PHASE"`
	UserGroupIDs   []string `json:"userGroupIds,omitempty" yaml:"userGroupIds,omitempty"`
}

// OverlayDefinition declares a Starlark property overlay. The script runs
// once per matching step and must assign a dict to "properties"; its entries
// are merged into the step's properties, and a None value removes a key.
type OverlayDefinition struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// StepType restricts the overlay to steps with this action tag.
	StepType string `json:"stepType,omitempty" yaml:"stepType,omitempty"`

	// PhaseStepType restricts the overlay to steps in slots of this type.
	PhaseStepType string `json:"phaseStepType,omitempty" yaml:"phaseStepType,omitempty"`

	// Rollback includes steps of rollback phases.
	Rollback bool `json:"rollback,omitempty" yaml:"rollback,omitempty"`

	Script string `json:"script" yaml:"script" validate:"required"`
}

// ParsedDefinition is the result of parsing definition sources.
type ParsedDefinition struct {
	// Definition is nil when Errors is not empty.
	Definition *WorkflowDefinition `json:"definition,omitempty"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the definition was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "phases[0].service".
	Path string `json:"path,omitempty"`

	Message string `json:"message"`

	// Severity is error, warning or info.
	Severity string `json:"severity"`
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// ToFailureStrategy converts the definition to an engine failure strategy.
func (s StrategyDefinition) ToFailureStrategy() engine.FailureStrategy {
	fs := engine.FailureStrategy{
		RepairActionCode:           engine.RepairActionCode(s.RepairActionCode),
		RetryCount:                 s.RetryCount,
		RetryIntervals:             append([]int(nil), s.RetryIntervals...),
		RepairActionCodeAfterRetry: engine.RepairActionCode(s.RepairActionCodeAfterRetry),
		ExecutionScope:             engine.ExecutionScope(s.ExecutionScope),
		SpecificSteps:              append([]string(nil), s.SpecificSteps...),
	}
	for _, ft := range s.FailureTypes {
		fs.FailureTypes = append(fs.FailureTypes, engine.FailureType(ft))
	}
	return fs
}

// ToNotificationRule converts the definition to an engine notification rule.
func (r NotificationRuleDefinition) ToNotificationRule() engine.NotificationRule {
	rule := engine.NotificationRule{
		ExecutionScope: engine.ExecutionScope(r.ExecutionScope),
		UserGroupIDs:   append([]string(nil), r.UserGroupIDs...),
	}
	for _, c := range r.Conditions {
		rule.Conditions = append(rule.Conditions, engine.ExecutionStatus(c))
	}
	return rule
}

// ToPhaseRequest converts the definition to a phase builder request.
func (p PhaseDefinition) ToPhaseRequest() engine.PhaseRequest {
	return engine.PhaseRequest{
		Name:           p.Name,
		ServiceID:      p.Service,
		InfraTargetID:  p.Infra,
		DeploymentType: engine.DeploymentType(p.DeploymentType),
		Variant:        engine.Variant(p.Variant),
		SkipSetup:      p.SkipSetup,
	}
}

func toFailureStrategies(defs []StrategyDefinition) []engine.FailureStrategy {
	if len(defs) == 0 {
		return nil
	}
	out := make([]engine.FailureStrategy, len(defs))
	for i, d := range defs {
		out[i] = d.ToFailureStrategy()
	}
	return out
}
