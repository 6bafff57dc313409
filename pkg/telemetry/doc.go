// Package telemetry provides observability instrumentation for phasekit.
//
// It bundles four concerns behind a single Telemetry value:
//
//   - structured logging on zerolog (Logger)
//   - OpenTelemetry tracing with OTLP or stdout exporters (Tracer)
//   - Prometheus metrics in a private registry (Metrics)
//   - an in-process event bus for phase status and advice events (EventPublisher)
//
// # Setup
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//	ctx = tel.WithContext(ctx)
//
// # Nil safety
//
// Metrics and Tracer methods accept nil receivers, so components that take
// them as optional collaborators need no guards:
//
//	var m *telemetry.Metrics
//	m.RecordAdvice("RETRY", d) // no-op
//
// # Metrics
//
// All metrics are prefixed with the configured namespace (default
// "phasekit"):
//
//   - phases_generated_total{deployment_type,status}
//   - phase_generation_duration_seconds{deployment_type}
//   - rollback_phases_synthesized_total{deployment_type}
//   - workflows_built_total{topology,status}
//   - workflows_managed
//   - advice_issued_total{interrupt_type}
//   - advice_duration_seconds
//   - collaborator_failures_total{collaborator}
//   - policy_evaluations_total{result}
//   - policy_violations_total{policy,severity}
//   - store_operation_duration_seconds{operation}
//   - store_errors_total{operation}
//   - errors_by_class_total{class}, errors_by_code_total{code}
//
// The CLI is short-lived, so the registry is written to Config.Metrics.Textfile
// at exit with WriteTextfile instead of being served over HTTP.
//
// # Events
//
// Event types: workflow.built, phase.attached, phase.status_changed,
// advice.issued, interrupt.raised, policy.violation. Subscribers may filter
// with FilterByLevel, FilterByType, FilterByExecutionID and FilterByWorkflowID.
// With EnableAsync unset, subscribers run synchronously inside Publish.
package telemetry
