package engine

import (
	"context"
	"errors"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// EventNotifier publishes phase status changes on the telemetry event bus,
// tagged with the user groups whose notification rules match.
type EventNotifier struct {
	publisher *telemetry.EventPublisher
}

// NewEventNotifier creates a notifier publishing to p.
func NewEventNotifier(p *telemetry.EventPublisher) *EventNotifier {
	return &EventNotifier{publisher: p}
}

// NotifyPhaseStatusChange implements NotificationSink.
func (n *EventNotifier) NotifyPhaseStatusChange(_ context.Context, ev *ExecutionEvent, phase *WorkflowPhase) error {
	var workflowID string
	var groups []string
	if ev.Workflow != nil {
		workflowID = ev.Workflow.ID
		groups = MatchingUserGroups(ev.Workflow.NotificationRules, ScopeWorkflowPhase, ev.Status)
	}
	return n.publisher.PublishPhaseStatusChanged(ev.ExecutionID, workflowID, phase.ID, phase.Name, string(ev.Status), groups)
}

// MatchingUserGroups returns the distinct user groups of the rules matching
// the scope and status, in rule order.
func MatchingUserGroups(rules []NotificationRule, scope ExecutionScope, status ExecutionStatus) []string {
	seen := make(map[string]bool)
	var groups []string
	for _, r := range rules {
		if !r.Matches(scope, status) {
			continue
		}
		for _, g := range r.UserGroupIDs {
			if !seen[g] {
				seen[g] = true
				groups = append(groups, g)
			}
		}
	}
	return groups
}

// NotificationSinks fans a phase status change out to several sinks.
type NotificationSinks []NotificationSink

// NotifyPhaseStatusChange implements NotificationSink. Every sink is called;
// their errors are joined.
func (s NotificationSinks) NotifyPhaseStatusChange(ctx context.Context, ev *ExecutionEvent, phase *WorkflowPhase) error {
	var errs []error
	for _, sink := range s {
		if err := sink.NotifyPhaseStatusChange(ctx, ev, phase); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
