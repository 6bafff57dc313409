// Package policy provides Open Policy Agent (OPA) integration for phasekit.
//
// Generated orchestration workflows are checked against Rego policies before
// they are saved or printed. Each policy module defines a "deny" set over an
// input document holding the workflow and an evaluation context:
//
//	{
//	  "workflow": { ...OrchestrationWorkflow as JSON... },
//	  "context":  {"environment": "production", "operation": "build"}
//	}
//
// A deny member is a message string or an object with "message" and
// optionally "severity" and "resource". Error and critical violations deny
// the workflow; info and warning violations are reported only.
//
// # Components
//
//  1. Engine - Compiles Rego v1 modules and evaluates them
//  2. Loader - Loads .rego and .json policies and watches them with fsnotify
//  3. Gate - Applies the advisory or enforcing mode and records telemetry
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//
//	gate, err := policy.NewGate(eng, policy.ModeEnforcing, policy.WithGateTelemetry(tel))
//	if err != nil {
//	    return err
//	}
//	result, err := gate.Check(ctx, wf, &policy.EvalContext{Environment: "production"})
//	if policy.IsPolicyDenied(err) {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
//   - rollback-coverage: every forward phase has a correctly linked rollback phase
//   - provisioner-rollback: provisioning steps are reversed by rollback provisioners
//   - retry-bounds: retry counts stay under a limit and never fall back to RETRY
//   - failure-notifications: someone is notified on FAILED or ERROR
//   - production-strategy: production workflows declare a failure strategy
//
// # Custom Policies
//
// A .rego file becomes a policy named after the file. Its leading comment
// block is the description, and a "# severity: <level>" line sets the default
// severity:
//
//	# Workflows must carry the team prefix.
//	# severity: error
//	package custom.naming
//
//	deny contains msg if {
//	    not startswith(input.workflow.name, "team-")
//	    msg := sprintf("workflow %s lacks the team- prefix", [input.workflow.name])
//	}
//
// A .json file holds a Policy document with the Rego inline.
package policy
