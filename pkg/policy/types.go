package policy

import (
	"time"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block a workflow.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking returns true for severities that deny a workflow.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid returns true for a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Mode selects what the gate does with blocking violations.
type Mode string

const (
	// ModeAdvisory reports violations but never rejects a workflow.
	ModeAdvisory Mode = "advisory"

	// ModeEnforcing rejects workflows with blocking violations.
	ModeEnforcing Mode = "enforcing"
)

// Policy represents a policy rule with its Rego code. The module must
// define a "deny" set; each member is a message string or an object with
// "message" and optionally "severity" and "resource".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with phasekit.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the workflow, phase or step ID that violated the policy.
	Resource string `json:"resource,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are violations that don't block the workflow.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// All returns blocking violations followed by warnings.
func (r *Result) All() []Violation {
	out := make([]Violation, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// Input is the document policies see as "input".
type Input struct {
	Workflow *engine.OrchestrationWorkflow `json:"workflow"`
	Context  *EvalContext                  `json:"context"`
}

// EvalContext provides context information for policy evaluation.
type EvalContext struct {
	// Environment is the target environment, e.g. "production".
	Environment string `json:"environment,omitempty"`

	// Operation is the CLI operation, e.g. "validate" or "build".
	Operation string `json:"operation,omitempty"`

	// User is the user performing the operation.
	User string `json:"user,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
