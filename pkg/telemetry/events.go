package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is something that happened to a workflow or an execution: a build, a
// phase status change, an advice, an operator interrupt or a policy violation.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	PhaseID     string                 `json:"phase_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeWorkflowBuilt      = "workflow.built"
	EventTypePhaseAttached      = "phase.attached"
	EventTypePhaseStatusChanged = "phase.status_changed"
	EventTypeAdviceIssued       = "advice.issued"
	EventTypeInterruptRaised    = "interrupt.raised"
	EventTypePolicyViolation    = "policy.violation"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event passes.
type EventFilter func(event Event) bool

type subscription struct {
	handle EventSubscriber
	filter EventFilter
}

// EventPublisher is an in-process event bus. With EnableAsync events are
// queued and delivered in order by a single worker, in batches of at most
// MaxBatchSize or every FlushInterval. Otherwise subscribers run inside
// Publish.
type EventPublisher struct {
	cfg EventsConfig

	mu          sync.RWMutex
	subscribers []subscription
	filters     []EventFilter

	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg, stop: make(chan struct{})}
	if cfg.Enabled && cfg.EnableAsync {
		if cfg.BufferSize <= 0 || cfg.MaxBatchSize <= 0 {
			return nil, fmt.Errorf("async events need a positive buffer and batch size")
		}
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.run()
	}
	return ep, nil
}

// Subscribe registers a subscriber. A nil filter passes everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{handle: subscriber, filter: filter})
}

// AddFilter registers a filter every event must pass before delivery.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// Publish stamps the event and delivers or queues it. A full queue drops the
// event with an error; the caller is never blocked.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !ep.passes(event) {
		return nil
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case <-ep.stop:
		return ErrPublisherStopped
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s event", event.Type)
	}
}

func (ep *EventPublisher) passes(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, f := range ep.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := ep.subscribers
	ep.mu.RUnlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.handle(event)
		}
	}
}

func (ep *EventPublisher) run() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(ep.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.cfg.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
			if len(batch) >= ep.cfg.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.stop:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil {
		return nil
	}
	ep.stopOnce.Do(func() { close(ep.stop) })

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) PublishWorkflowBuilt(workflowID, name string, phases int) error {
	return ep.Publish(Event{
		Type:       EventTypeWorkflowBuilt,
		Source:     "builder",
		WorkflowID: workflowID,
		Message:    fmt.Sprintf("Workflow %s built with %d phase(s)", name, phases),
		Level:      EventLevelInfo,
		Data:       map[string]interface{}{"name": name, "phases": phases},
	})
}

func (ep *EventPublisher) PublishPhaseAttached(workflowID, phaseID, phaseName, deploymentType string) error {
	return ep.Publish(Event{
		Type:       EventTypePhaseAttached,
		Source:     "builder",
		WorkflowID: workflowID,
		PhaseID:    phaseID,
		Message:    fmt.Sprintf("Phase %s (%s) attached", phaseName, deploymentType),
		Level:      EventLevelInfo,
		Data:       map[string]interface{}{"name": phaseName, "deployment_type": deploymentType},
	})
}

// PublishPhaseStatusChanged publishes a phase status change. userGroups are
// the groups whose notification rules matched; FAILED and ERROR are raised
// at error level.
func (ep *EventPublisher) PublishPhaseStatusChanged(executionID, workflowID, phaseID, phaseName, status string, userGroups []string) error {
	level := EventLevelInfo
	if status == "FAILED" || status == "ERROR" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:        EventTypePhaseStatusChanged,
		Source:      "advisor",
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		PhaseID:     phaseID,
		Message:     fmt.Sprintf("%s is %s", phaseName, status),
		Level:       level,
		Data: map[string]interface{}{
			"name":        phaseName,
			"status":      status,
			"user_groups": userGroups,
		},
	})
}

func (ep *EventPublisher) PublishAdviceIssued(executionID, stateID, interruptType, nextState string) error {
	return ep.Publish(Event{
		Type:        EventTypeAdviceIssued,
		Source:      "advisor",
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Advised %s for state %s", interruptType, stateID),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"state_id":       stateID,
			"interrupt_type": interruptType,
			"next_state":     nextState,
		},
	})
}

func (ep *EventPublisher) PublishInterruptRaised(executionID, interruptType string) error {
	return ep.Publish(Event{
		Type:        EventTypeInterruptRaised,
		Source:      "operator",
		ExecutionID: executionID,
		Message:     fmt.Sprintf("Interrupt %s raised on execution %s", interruptType, executionID),
		Level:       EventLevelWarning,
		Data:        map[string]interface{}{"interrupt_type": interruptType},
	})
}

func (ep *EventPublisher) PublishPolicyViolation(workflowID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy",
		WorkflowID: workflowID,
		Message:    fmt.Sprintf("%s: %s", policyName, reason),
		Level:      EventLevelError,
		Data:       map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= floor }
}

func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(e Event) bool { return set[e.Type] }
}

func FilterByExecutionID(executionID string) EventFilter {
	return func(e Event) bool { return e.ExecutionID == executionID }
}

func FilterByWorkflowID(workflowID string) EventFilter {
	return func(e Event) bool { return e.WorkflowID == workflowID }
}
