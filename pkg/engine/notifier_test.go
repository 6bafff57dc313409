package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

func TestMatchingUserGroups(t *testing.T) {
	rules := []NotificationRule{
		{Conditions: []ExecutionStatus{StatusFailed}, ExecutionScope: ScopeWorkflowPhase, UserGroupIDs: []string{"ops", "dev"}},
		{Conditions: []ExecutionStatus{StatusFailed, StatusSuccess}, ExecutionScope: ScopeWorkflowPhase, UserGroupIDs: []string{"dev", "qa"}},
		{Conditions: []ExecutionStatus{StatusFailed}, ExecutionScope: ScopeWorkflow, UserGroupIDs: []string{"managers"}},
	}

	got := MatchingUserGroups(rules, ScopeWorkflowPhase, StatusFailed)
	if want := []string{"ops", "dev", "qa"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	got = MatchingUserGroups(rules, ScopeWorkflowPhase, StatusSuccess)
	if want := []string{"dev", "qa"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := MatchingUserGroups(rules, ScopeWorkflowPhase, StatusPaused); len(got) != 0 {
		t.Errorf("Expected no groups, got %v", got)
	}
}

func TestEventNotifier_Publishes(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer events.Shutdown(context.Background())

	var received []telemetry.Event
	events.Subscribe(func(e telemetry.Event) { received = append(received, e) }, nil)

	wf := NewOrchestrationWorkflow("notify", TopologyBasic)
	wf.NotificationRules = []NotificationRule{
		{Conditions: []ExecutionStatus{StatusFailed}, ExecutionScope: ScopeWorkflowPhase, UserGroupIDs: []string{"ops"}},
	}
	phase := &WorkflowPhase{ID: "p1", Name: "Phase 1"}
	ev := &ExecutionEvent{ExecutionID: "exec-1", StateID: "p1", StateType: StateTypePhase, Status: StatusFailed, Workflow: wf}

	if err := NewEventNotifier(events).NotifyPhaseStatusChange(context.Background(), ev, phase); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(received))
	}
	e := received[0]
	if e.Type != telemetry.EventTypePhaseStatusChanged || e.WorkflowID != wf.ID || e.PhaseID != "p1" {
		t.Errorf("Expected phase status event for %s, got %+v", wf.ID, e)
	}
	if groups, _ := e.Data["user_groups"].([]string); !reflect.DeepEqual(groups, []string{"ops"}) {
		t.Errorf("Expected user groups [ops], got %v", e.Data["user_groups"])
	}
}

type failingSink struct{ err error }

func (s failingSink) NotifyPhaseStatusChange(context.Context, *ExecutionEvent, *WorkflowPhase) error {
	return s.err
}

func TestNotificationSinks_FanOut(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	boom := errors.New("boom")
	sinks := NotificationSinks{first, failingSink{err: boom}, second}

	ev := &ExecutionEvent{Status: StatusSuccess}
	err := sinks.NotifyPhaseStatusChange(context.Background(), ev, &WorkflowPhase{Name: "Phase 1"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap boom, got %v", err)
	}
	if len(first.phases) != 1 || len(second.phases) != 1 {
		t.Error("Expected every sink to be called")
	}
}
