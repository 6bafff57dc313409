package engine

import (
	"encoding/json"
	"fmt"
)

// ExecutionStatus is the status an external executor reports for a state.
type ExecutionStatus string

const (
	// StatusNew indicates the state has been created but not queued.
	StatusNew ExecutionStatus = "NEW"

	// StatusQueued indicates the state is waiting for a worker.
	StatusQueued ExecutionStatus = "QUEUED"

	// StatusStarting indicates the state is being started.
	StatusStarting ExecutionStatus = "STARTING"

	// StatusRunning indicates the state is executing.
	StatusRunning ExecutionStatus = "RUNNING"

	// StatusSuccess indicates the state completed successfully.
	StatusSuccess ExecutionStatus = "SUCCESS"

	// StatusFailed indicates the state failed.
	StatusFailed ExecutionStatus = "FAILED"

	// StatusError indicates the state raised an unexpected error.
	StatusError ExecutionStatus = "ERROR"

	// StatusAborted indicates the state was aborted by an interrupt.
	StatusAborted ExecutionStatus = "ABORTED"

	// StatusPaused indicates the state is suspended until resumed.
	StatusPaused ExecutionStatus = "PAUSED"

	// StatusWaiting indicates the state is waiting on a retry interval.
	StatusWaiting ExecutionStatus = "WAITING"

	// StatusSkipped indicates the state was skipped.
	StatusSkipped ExecutionStatus = "SKIPPED"

	// StatusRejected indicates an approval was rejected.
	StatusRejected ExecutionStatus = "REJECTED"

	// StatusExpired indicates the state timed out.
	StatusExpired ExecutionStatus = "EXPIRED"
)

// IsTerminal returns true if the status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError, StatusAborted,
		StatusSkipped, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// IsNegative returns true for the statuses that trigger failure handling.
func (s ExecutionStatus) IsNegative() bool {
	return s == StatusFailed || s == StatusError
}

// Validate checks if the execution status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case StatusNew, StatusQueued, StatusStarting, StatusRunning, StatusSuccess,
		StatusFailed, StatusError, StatusAborted, StatusPaused, StatusWaiting,
		StatusSkipped, StatusRejected, StatusExpired:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ExecutionStatus(str)
	if *s == "" {
		return nil
	}
	return s.Validate()
}

// ExecutionInterruptType names both the interrupts an operator can raise
// against an execution and the advice types returned by the Advisor.
type ExecutionInterruptType string

const (
	// InterruptAbortAll aborts every running state of the execution.
	InterruptAbortAll ExecutionInterruptType = "ABORT_ALL"

	// InterruptRollback requests an on-demand rollback.
	InterruptRollback ExecutionInterruptType = "ROLLBACK"

	// InterruptPauseAll pauses the execution.
	InterruptPauseAll ExecutionInterruptType = "PAUSE_ALL"

	// InterruptResumeAll resumes a paused execution.
	InterruptResumeAll ExecutionInterruptType = "RESUME_ALL"

	// InterruptIgnore marks the failed state as ignored and continues.
	InterruptIgnore ExecutionInterruptType = "IGNORE"

	// InterruptRetry re-runs the failed state after WaitInterval seconds.
	InterruptRetry ExecutionInterruptType = "RETRY"

	// InterruptPause suspends the failed state for manual intervention.
	InterruptPause ExecutionInterruptType = "PAUSE"

	// InterruptEndExecution ends the execution.
	InterruptEndExecution ExecutionInterruptType = "END_EXECUTION"

	// InterruptRollbackDone marks the rollback chain as finished.
	InterruptRollbackDone ExecutionInterruptType = "ROLLBACK_DONE"

	// InterruptNextStep jumps to NextStateName.
	InterruptNextStep ExecutionInterruptType = "NEXT_STEP"
)

// Validate checks if the interrupt type is valid.
func (t ExecutionInterruptType) Validate() error {
	switch t {
	case InterruptAbortAll, InterruptRollback, InterruptPauseAll, InterruptResumeAll,
		InterruptIgnore, InterruptRetry, InterruptPause, InterruptEndExecution,
		InterruptRollbackDone, InterruptNextStep:
		return nil
	default:
		return fmt.Errorf("invalid execution interrupt type: %s", t)
	}
}

// RepairActionCode is the category of response to a failure.
type RepairActionCode string

const (
	// RepairIgnore continues as if the state succeeded.
	RepairIgnore RepairActionCode = "IGNORE"

	// RepairRetry re-runs the failed leaf state.
	RepairRetry RepairActionCode = "RETRY"

	// RepairManualIntervention pauses the state until an operator acts.
	RepairManualIntervention RepairActionCode = "MANUAL_INTERVENTION"

	// RepairRollbackPhase rolls back the failing phase only.
	RepairRollbackPhase RepairActionCode = "ROLLBACK_PHASE"

	// RepairRollbackWorkflow rolls back every executed phase in reverse order.
	RepairRollbackWorkflow RepairActionCode = "ROLLBACK_WORKFLOW"

	// RepairEndExecution ends the execution without rollback.
	RepairEndExecution RepairActionCode = "END_EXECUTION"

	// RepairAbortWorkflowExecution aborts the whole execution.
	RepairAbortWorkflowExecution RepairActionCode = "ABORT_WORKFLOW_EXECUTION"
)

// Validate checks if the repair action code is valid.
func (c RepairActionCode) Validate() error {
	switch c {
	case RepairIgnore, RepairRetry, RepairManualIntervention, RepairRollbackPhase,
		RepairRollbackWorkflow, RepairEndExecution, RepairAbortWorkflowExecution:
		return nil
	default:
		return fmt.Errorf("invalid repair action code: %s", c)
	}
}

// IsRollback returns true for the codes that start a rollback.
func (c RepairActionCode) IsRollback() bool {
	return c == RepairRollbackPhase || c == RepairRollbackWorkflow
}

// ExecutionScope is the level a failure strategy or notification rule applies to.
type ExecutionScope string

const (
	ScopeWorkflow      ExecutionScope = "WORKFLOW"
	ScopeWorkflowPhase ExecutionScope = "WORKFLOW_PHASE"
)

// Validate checks if the execution scope is valid.
func (s ExecutionScope) Validate() error {
	switch s {
	case ScopeWorkflow, ScopeWorkflowPhase:
		return nil
	default:
		return fmt.Errorf("invalid execution scope: %s", s)
	}
}

// FailureType classifies why a state failed.
type FailureType string

const (
	FailureConnectivity         FailureType = "CONNECTIVITY"
	FailureAuthentication       FailureType = "AUTHENTICATION"
	FailureVerification         FailureType = "VERIFICATION_FAILURE"
	FailureApplicationError     FailureType = "APPLICATION_ERROR"
	FailureDelegateProvisioning FailureType = "DELEGATE_PROVISIONING"
	FailureExpired              FailureType = "EXPIRED"
)

// Validate checks if the failure type is valid.
func (f FailureType) Validate() error {
	switch f {
	case FailureConnectivity, FailureAuthentication, FailureVerification,
		FailureApplicationError, FailureDelegateProvisioning, FailureExpired:
		return nil
	default:
		return fmt.Errorf("invalid failure type: %s", f)
	}
}

// StateType is the kind of node the executor reports an event for.
// Composite kinds wrap other states; everything else is a leaf step whose
// type is its action tag.
type StateType string

const (
	StateTypePhase       StateType = "PHASE"
	StateTypePhaseStep   StateType = "PHASE_STEP"
	StateTypeSubWorkflow StateType = "SUB_WORKFLOW"
	StateTypeFork        StateType = "FORK"
	StateTypeRepeat      StateType = "REPEAT"
)

// IsComposite returns true if the state contains other states.
func (t StateType) IsComposite() bool {
	switch t {
	case StateTypePhase, StateTypePhaseStep, StateTypeSubWorkflow, StateTypeFork, StateTypeRepeat:
		return true
	default:
		return false
	}
}
