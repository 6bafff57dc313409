package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		rollbackCoveragePolicy(),
		provisionerRollbackPolicy(),
		retryBoundsPolicy(),
		failureNotificationPolicy(),
		productionStrategyPolicy(),
	}
}

// rollbackCoveragePolicy requires a rollback phase for every forward phase.
func rollbackCoveragePolicy() Policy {
	return Policy{
		Name:        "rollback-coverage",
		Description: "Every forward phase must have a rollback phase",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rollback"},
		LoadedAt:    time.Now(),
		Rego: `package phasekit.rollback

deny contains violation if {
	some phase in input.workflow.phases
	not input.workflow.rollbackByForwardPhaseId[phase.id]
	violation := {
		"message": sprintf("Phase '%s' has no rollback phase", [phase.name]),
		"resource": phase.id,
	}
}

deny contains violation if {
	some forward_id, rb in input.workflow.rollbackByForwardPhaseId
	rb.rollbackOfPhaseId != forward_id
	violation := {
		"message": sprintf("Rollback phase '%s' is linked to the wrong forward phase", [rb.name]),
		"resource": rb.id,
	}
}
`,
	}
}

// provisionerRollbackPolicy requires provisioned infrastructure to be torn
// down on rollback.
func provisionerRollbackPolicy() Policy {
	return Policy{
		Name:        "provisioner-rollback",
		Description: "Infrastructure provisioned before deployment must have rollback steps",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rollback", "provisioning"},
		LoadedAt:    time.Now(),
		Rego: `package phasekit.provisioners

provisioning_types := {"CLOUD_FORMATION_CREATE_STACK", "TERRAFORM_PROVISION"}

deny contains violation if {
	step := input.workflow.preDeploymentSteps.steps[_]
	provisioning_types[step.type]
	not input.workflow.rollbackProvisioners
	violation := {
		"message": sprintf("Provisioning step '%s' has no rollback", [step.name]),
		"resource": step.id,
	}
}

deny contains violation if {
	step := input.workflow.preDeploymentSteps.steps[_]
	provisioning_types[step.type]
	not step.properties.provisionerId
	violation := {
		"message": sprintf("Provisioning step '%s' does not name a provisioner", [step.name]),
		"resource": step.id,
		"severity": "warning",
	}
}
`,
	}
}

// retryBoundsPolicy flags retry strategies that can loop for a long time.
func retryBoundsPolicy() Policy {
	return Policy{
		Name:        "retry-bounds",
		Description: "Retry strategies must be bounded and must not retry after retrying",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"failure-strategy"},
		LoadedAt:    time.Now(),
		Rego: `package phasekit.retry

max_retries := 10

strategies contains s if {
	s := input.workflow.failureStrategies[_]
}

strategies contains s if {
	s := input.workflow.phases[_].phaseSteps[_].failureStrategies[_]
}

deny contains violation if {
	some s in strategies
	s.repairActionCode == "RETRY"
	s.retryCount > max_retries
	violation := {
		"message": sprintf("Retry count %d exceeds the limit of %d", [s.retryCount, max_retries]),
		"resource": input.workflow.id,
	}
}

deny contains violation if {
	some s in strategies
	s.repairActionCode == "RETRY"
	s.repairActionCodeAfterRetry == "RETRY"
	violation := {
		"message": "Retry strategy falls back to RETRY",
		"resource": input.workflow.id,
		"severity": "error",
	}
}
`,
	}
}

// failureNotificationPolicy warns when nobody is told about a failure.
func failureNotificationPolicy() Policy {
	return Policy{
		Name:        "failure-notifications",
		Description: "Workflows should notify someone when they fail",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"notifications"},
		LoadedAt:    time.Now(),
		Rego: `package phasekit.notifications

failure_statuses := {"FAILED", "ERROR"}

has_failure_rule if {
	rule := input.workflow.notificationRules[_]
	failure_statuses[rule.conditions[_]]
}

deny contains violation if {
	not has_failure_rule
	violation := {
		"message": sprintf("Workflow '%s' notifies nobody on failure", [input.workflow.name]),
		"resource": input.workflow.id,
	}
}
`,
	}
}

// productionStrategyPolicy requires an explicit failure strategy for
// production workflows.
func productionStrategyPolicy() Policy {
	return Policy{
		Name:        "production-strategy",
		Description: "Production workflows must declare a failure strategy",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"failure-strategy", "production"},
		LoadedAt:    time.Now(),
		Rego: `package phasekit.production

deny contains violation if {
	input.context.environment == "production"
	count(object.get(input.workflow, "failureStrategies", [])) == 0
	violation := {
		"message": sprintf("Production workflow '%s' declares no failure strategy", [input.workflow.name]),
		"resource": input.workflow.id,
	}
}
`,
	}
}
