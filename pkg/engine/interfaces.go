package engine

import (
	"context"
	"time"
)

// ServiceLookup resolves the services and infrastructure targets a phase refers to.
// It is read-only and consulted only while phases are built.
type ServiceLookup interface {
	// GetService returns the service with the given ID.
	GetService(ctx context.Context, id string) (*ServiceSpec, error)

	// GetInfraTarget returns the infrastructure target with the given ID.
	GetInfraTarget(ctx context.Context, id string) (*InfraTarget, error)
}

// Interrupt is an operator request raised against a running execution.
type Interrupt struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	Type        ExecutionInterruptType `json:"type"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// InterruptSource reports the interrupts pending for an execution.
type InterruptSource interface {
	PendingInterrupts(ctx context.Context, executionID string) ([]Interrupt, error)
}

// NotificationSink receives phase status changes. Delivery is fire-and-forget.
type NotificationSink interface {
	NotifyPhaseStatusChange(ctx context.Context, ev *ExecutionEvent, phase *WorkflowPhase) error
}

// InstanceExtractor records the instances a forward phase deployed to.
type InstanceExtractor interface {
	ExtractInstances(ctx context.Context, ev *ExecutionEvent, phase *WorkflowPhase) error
}

// AttemptHistory counts prior attempts of a state, used for RETRY accounting.
type AttemptHistory interface {
	AttemptCount(ctx context.Context, executionID, stateID string) (int, error)
}

// InstanceSelector reports how many instances a rolling phase has yet to deploy to.
type InstanceSelector interface {
	RemainingInstances(ctx context.Context, executionID, phaseID string) (int, error)
}

// hasInterrupt returns true if an interrupt of the given type is pending.
func hasInterrupt(interrupts []Interrupt, t ExecutionInterruptType) bool {
	for _, i := range interrupts {
		if i.Type == t {
			return true
		}
	}
	return false
}
