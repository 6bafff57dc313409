// Package stores provides the SQLite persistence layer for phasekit.
// It keeps versioned workflow documents, state attempts, execution
// interrupts, a phase status log and the instance inventory of rolling
// deployments. SQLiteStore implements the engine collaborator interfaces
// (AttemptHistory, InterruptSource, NotificationSink, InstanceExtractor and
// InstanceSelector) so it can be handed directly to engine.NewAdvisor.
package stores
