package stores

import (
	"context"
	"time"

	"github.com/openfroyo/phasekit/pkg/engine"
)

// InstanceStatus is the deployment state of an inventory instance.
type InstanceStatus string

const (
	InstanceStatusPending  InstanceStatus = "pending"
	InstanceStatusDeployed InstanceStatus = "deployed"
)

// WorkflowSummary describes a stored workflow without its document.
type WorkflowSummary struct {
	ID        string                           `json:"id"`
	Name      string                           `json:"name"`
	AccountID string                           `json:"account_id"`
	Topology  engine.OrchestrationWorkflowType `json:"topology"`
	Version   int64                            `json:"version"`
	CreatedAt time.Time                        `json:"created_at"`
	UpdatedAt time.Time                        `json:"updated_at"`
}

// Attempt is one recorded run of a state within an execution.
type Attempt struct {
	ID          int64                  `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	StateID     string                 `json:"state_id"`
	Status      engine.ExecutionStatus `json:"status"`
	Message     string                 `json:"message,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// PhaseStatusEntry is a row of the phase status log.
type PhaseStatusEntry struct {
	ID          int64                  `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	PhaseID     string                 `json:"phase_id"`
	PhaseName   string                 `json:"phase_name"`
	DisplayName string                 `json:"display_name,omitempty"`
	Status      engine.ExecutionStatus `json:"status"`
	Rollback    bool                   `json:"rollback"`
	UserGroups  []string               `json:"user_groups,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Instance is a target of a phase within an execution.
type Instance struct {
	ExecutionID string         `json:"execution_id"`
	PhaseID     string         `json:"phase_id"`
	Name        string         `json:"name"`
	Status      InstanceStatus `json:"status"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Workflow documents
	SaveWorkflow(ctx context.Context, wf *engine.OrchestrationWorkflow, expectedVersion int64) error
	GetWorkflow(ctx context.Context, id string) (*engine.OrchestrationWorkflow, error)
	ListWorkflows(ctx context.Context, limit, offset int) ([]*WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Attempts
	RecordAttempt(ctx context.Context, attempt *Attempt) error
	ListAttempts(ctx context.Context, executionID string) ([]*Attempt, error)
	engine.AttemptHistory

	// Interrupts
	AddInterrupt(ctx context.Context, interrupt *engine.Interrupt) error
	ClearInterrupts(ctx context.Context, executionID string, t engine.ExecutionInterruptType) (int64, error)
	engine.InterruptSource

	// Phase status log
	PhaseHistory(ctx context.Context, executionID string) ([]*PhaseStatusEntry, error)
	engine.NotificationSink

	// Instance inventory
	RegisterInstances(ctx context.Context, executionID, phaseID string, names []string) error
	ListInstances(ctx context.Context, executionID, phaseID string) ([]*Instance, error)
	engine.InstanceExtractor
	engine.InstanceSelector
}
