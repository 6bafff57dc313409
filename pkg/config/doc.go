// Package config loads phasekit workflow definitions and runtime settings.
//
// # Overview
//
// A workflow definition declares the topology, phases, workflow-level steps,
// failure strategies and notification rules of an orchestration workflow.
// Definitions are written in CUE or YAML. Builder turns a definition into an
// engine.OrchestrationWorkflow by running the phase templates and the
// rollback synthesizer for each phase.
//
// # Components
//
// CUEParser: parses CUE files and package directories. The workflow value is
// unified with the built-in #Workflow schema from the SchemaRegistry, so type
// errors are reported with file, line and column.
//
// ParseYAML: parses YAML and JSON definitions with unknown fields rejected.
//
// Both paths finish with struct validation (go-playground/validator), which
// includes the notretry rule: a RETRY strategy may not fall back to RETRY.
//
// Catalog: an engine.ServiceLookup backed by YAML or CUE files. Definitions
// may also carry inline services and infrastructure targets.
//
// StarlarkEvaluator and ApplyOverlays: overlay scripts compute per-step
// property overrides after generation. Each script sees step, phase_step,
// phase, workflow and variables, and assigns a dict to properties.
//
// RuntimeConfig: the phasekit.yaml file read by the CLI.
//
// # Definition Example
//
//	workflow: {
//	    name:     "api-canary"
//	    topology: "CANARY"
//	    phases: [{service: "svc-api", infra: "infra-eks"}]
//	    failureStrategies: [{
//	        repairActionCode:           "RETRY"
//	        retryCount:                 3
//	        retryIntervals:             [10, 30]
//	        repairActionCodeAfterRetry: "ROLLBACK_WORKFLOW"
//	    }]
//	    overlays: [{
//	        stepType: "KUBERNETES_SCALE"
//	        script:   "properties = {\"maxSurge\": variables[\"surge\"]}"
//	    }]
//	    variables: surge: 2
//	}
//
// # Security
//
// Starlark execution is sandboxed: load() is unavailable, print goes to the
// debug log, and every run is bounded by a timeout and an execution step cap.
package config
