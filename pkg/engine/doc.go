// Package engine builds deployment workflows and advises their execution.
//
// # Overview
//
// An OrchestrationWorkflow is an ordered list of forward phases. Each phase
// deploys one service to one infrastructure target and is made of slots
// (phase-steps) such as SETUP, DEPLOY, VERIFY and WRAP_UP. Every forward
// phase is paired with a rollback phase that undoes it.
//
// The package has two halves:
//
//  1. Generation - the TemplateLibrary fills a forward phase for a
//     (deployment type, topology, variant) combination, and the Synthesizer
//     derives its rollback phase. PhaseBuilder ties both to a workflow.
//  2. Advice - the Advisor receives an ExecutionEvent every time a state of
//     a running execution changes status and answers with an
//     ExecutionEventAdvice: retry, pause, ignore, roll back, move on or end.
//
// # Generation
//
//	registry := engine.NewStepTypeRegistry()
//	builder := engine.NewPhaseBuilder(catalog,
//		engine.NewTemplateLibrary(registry),
//		engine.NewSynthesizer(registry))
//	phase, err := builder.AttachPhase(ctx, wf, engine.PhaseRequest{
//		ServiceID:     "svc-web",
//		InfraTargetID: "infra-prod-eks",
//	})
//
// Phases are regenerated, never patched, when their deployment type, variant
// or infrastructure type changes. UpdateStepProperties is the only in-place
// edit.
//
// # Advice
//
// The Advisor is stateless. It consults collaborators for operator
// interrupts, prior attempts and rolling-deployment progress:
//
//	advisor := engine.NewAdvisor(
//		engine.WithLogger(logger),
//		engine.WithInterruptSource(store),
//		engine.WithAttemptHistory(store),
//		engine.WithNotificationSink(engine.NewEventNotifier(events)),
//	)
//	advice, err := advisor.OnExecutionEvent(ctx, ev)
//
// Failure strategies are resolved phase-step first, then workflow-wide.
// ROLLBACK_WORKFLOW outranks ROLLBACK_PHASE, which outranks declaration
// order. A pending ABORT_ALL interrupt always ends the execution.
//
// Collaborator errors and panics are logged and counted; they never change
// the advice.
//
// # Error Classification
//
// Errors carry a class and a code:
//
//   - Configuration: no template for the requested combination, unknown step type
//   - Invariant: the workflow is inconsistent, for example a missing rollback phase
//   - Conflict: the workflow changed since it was read
//   - Permanent: validation failures and missing entities
package engine
