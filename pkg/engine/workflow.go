package engine

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// OrchestrationWorkflow is the aggregate owning the forward phases of a
// workflow, their rollback phases, and the workflow-level configuration.
//
// Phases, phase-steps and steps are addressed through an ID index that is
// rebuilt after every structural mutation and after decoding, so readers
// never observe a partially built index.
type OrchestrationWorkflow struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	AccountID string                    `json:"accountId,omitempty"`
	Topology  OrchestrationWorkflowType `json:"topology"`

	PreDeploymentSteps   *PhaseStep `json:"preDeploymentSteps"`
	PostDeploymentSteps  *PhaseStep `json:"postDeploymentSteps"`
	RollbackProvisioners *PhaseStep `json:"rollbackProvisioners,omitempty"`

	// Phases are the forward phases in execution order.
	Phases []*WorkflowPhase `json:"phases"`

	// RollbackByForwardPhaseID maps each forward phase ID to its rollback phase.
	RollbackByForwardPhaseID map[string]*WorkflowPhase `json:"rollbackByForwardPhaseId"`

	FailureStrategies []FailureStrategy  `json:"failureStrategies,omitempty"`
	NotificationRules []NotificationRule `json:"notificationRules,omitempty"`

	// Version is incremented on every structural edit.
	Version int64 `json:"version"`

	index atomic.Pointer[workflowIndex]
}

type workflowIndex struct {
	phases       map[string]*WorkflowPhase
	phaseSteps   map[string]*PhaseStep
	steps        map[string]*Step
	phaseOfStep  map[string]*WorkflowPhase
	parentOfStep map[string]*PhaseStep
	forwardIndex map[string]int
	phasesByName map[string]*WorkflowPhase
	duplicateIDs []string
}

// NewOrchestrationWorkflow creates an empty workflow with pre- and
// post-deployment phase-steps.
func NewOrchestrationWorkflow(name string, topology OrchestrationWorkflowType) *OrchestrationWorkflow {
	wf := &OrchestrationWorkflow{
		ID:                       uuid.New().String(),
		Name:                     name,
		Topology:                 topology,
		PreDeploymentSteps:       newEmptyPhaseStep(PhaseStepPreDeployment),
		PostDeploymentSteps:      newEmptyPhaseStep(PhaseStepPostDeployment),
		Phases:                   make([]*WorkflowPhase, 0),
		RollbackByForwardPhaseID: make(map[string]*WorkflowPhase),
	}
	wf.Reindex()
	return wf
}

func newEmptyPhaseStep(t PhaseStepType) *PhaseStep {
	return &PhaseStep{
		ID:    uuid.New().String(),
		Type:  t,
		Name:  t.DisplayName(),
		Steps: make([]*Step, 0),
	}
}

// UnmarshalJSON decodes the workflow and rebuilds its index.
func (w *OrchestrationWorkflow) UnmarshalJSON(data []byte) error {
	type plain OrchestrationWorkflow
	if err := json.Unmarshal(data, (*plain)(w)); err != nil {
		return err
	}
	if w.RollbackByForwardPhaseID == nil {
		w.RollbackByForwardPhaseID = make(map[string]*WorkflowPhase)
	}
	w.Reindex()
	return nil
}

// Reindex rebuilds the ID index. Call it after editing the exported fields directly.
func (w *OrchestrationWorkflow) Reindex() {
	w.index.Store(buildIndex(w))
}

func (w *OrchestrationWorkflow) idx() *workflowIndex {
	if idx := w.index.Load(); idx != nil {
		return idx
	}
	w.index.CompareAndSwap(nil, buildIndex(w))
	return w.index.Load()
}

func buildIndex(w *OrchestrationWorkflow) *workflowIndex {
	idx := &workflowIndex{
		phases:       make(map[string]*WorkflowPhase),
		phaseSteps:   make(map[string]*PhaseStep),
		steps:        make(map[string]*Step),
		phaseOfStep:  make(map[string]*WorkflowPhase),
		parentOfStep: make(map[string]*PhaseStep),
		forwardIndex: make(map[string]int),
		phasesByName: make(map[string]*WorkflowPhase),
	}
	seen := make(map[string]bool)
	track := func(id string) {
		if seen[id] {
			idx.duplicateIDs = append(idx.duplicateIDs, id)
		}
		seen[id] = true
	}

	addPhaseStep := func(ps *PhaseStep, owner *WorkflowPhase) {
		if ps == nil {
			return
		}
		track(ps.ID)
		idx.phaseSteps[ps.ID] = ps
		if owner != nil {
			idx.phaseOfStep[ps.ID] = owner
		}
		for _, st := range ps.Steps {
			track(st.ID)
			idx.steps[st.ID] = st
			idx.parentOfStep[st.ID] = ps
		}
	}
	addPhase := func(p *WorkflowPhase) {
		if p == nil {
			return
		}
		track(p.ID)
		idx.phases[p.ID] = p
		idx.phasesByName[p.Name] = p
		for _, ps := range p.PhaseSteps {
			addPhaseStep(ps, p)
		}
	}

	addPhaseStep(w.PreDeploymentSteps, nil)
	addPhaseStep(w.PostDeploymentSteps, nil)
	addPhaseStep(w.RollbackProvisioners, nil)
	for i, p := range w.Phases {
		addPhase(p)
		idx.forwardIndex[p.ID] = i
	}
	for _, p := range w.Phases {
		addPhase(w.RollbackByForwardPhaseID[p.ID])
	}
	return idx
}

// Phase returns the forward or rollback phase with the given ID.
func (w *OrchestrationWorkflow) Phase(id string) *WorkflowPhase {
	return w.idx().phases[id]
}

// PhaseByName returns the forward or rollback phase with the given name.
func (w *OrchestrationWorkflow) PhaseByName(name string) *WorkflowPhase {
	return w.idx().phasesByName[name]
}

// PhaseStep returns the phase-step with the given ID, including the
// pre-deployment, post-deployment and rollback-provisioner phase-steps.
func (w *OrchestrationWorkflow) PhaseStep(id string) *PhaseStep {
	return w.idx().phaseSteps[id]
}

// Step returns the step with the given ID.
func (w *OrchestrationWorkflow) Step(id string) *Step {
	return w.idx().steps[id]
}

// PhaseOfPhaseStep returns the phase owning a phase-step, or nil for
// workflow-level phase-steps.
func (w *OrchestrationWorkflow) PhaseOfPhaseStep(phaseStepID string) *WorkflowPhase {
	return w.idx().phaseOfStep[phaseStepID]
}

// PhaseStepOfStep returns the phase-step owning a step.
func (w *OrchestrationWorkflow) PhaseStepOfStep(stepID string) *PhaseStep {
	return w.idx().parentOfStep[stepID]
}

// ForwardPhaseIndex returns the position of a forward phase, or -1.
func (w *OrchestrationWorkflow) ForwardPhaseIndex(id string) int {
	if i, ok := w.idx().forwardIndex[id]; ok {
		return i
	}
	return -1
}

// RollbackPhaseFor returns the rollback phase mapped to a forward phase.
// A missing mapping is an invariant violation.
func (w *OrchestrationWorkflow) RollbackPhaseFor(forwardID string) (*WorkflowPhase, error) {
	rb, ok := w.RollbackByForwardPhaseID[forwardID]
	if !ok || rb == nil {
		return nil, NewInvariantError("rollback phase missing for forward phase", nil).
			WithResource(forwardID).WithOperation("rollback_lookup")
	}
	return rb, nil
}

// CheckVersion returns a conflict error when the aggregate moved past the expected version.
func (w *OrchestrationWorkflow) CheckVersion(expected int64) error {
	if w.Version != expected {
		return NewConflictError(
			fmt.Sprintf("workflow version is %d, expected %d", w.Version, expected), nil,
		).WithResource(w.ID)
	}
	return nil
}

func (w *OrchestrationWorkflow) bump() {
	w.Version++
	w.Reindex()
}

// RemovePhase removes a forward phase together with its rollback phase.
func (w *OrchestrationWorkflow) RemovePhase(id string) error {
	i := w.ForwardPhaseIndex(id)
	if i < 0 {
		return NewPermanentError("forward phase not found", nil).
			WithCode(ErrCodeNotFound).WithResource(id)
	}
	phases := make([]*WorkflowPhase, 0, len(w.Phases)-1)
	phases = append(phases, w.Phases[:i]...)
	phases = append(phases, w.Phases[i+1:]...)
	w.Phases = phases
	delete(w.RollbackByForwardPhaseID, id)
	w.bump()
	return nil
}

// UpdateStepProperties overlays properties onto a step. A nil value removes the key.
// This is the only in-place edit that does not regenerate a phase.
func (w *OrchestrationWorkflow) UpdateStepProperties(stepID string, props Properties) error {
	st := w.Step(stepID)
	if st == nil {
		return NewPermanentError("step not found", nil).
			WithCode(ErrCodeNotFound).WithResource(stepID)
	}
	if st.Properties == nil {
		st.Properties = make(Properties)
	}
	for k, v := range props {
		if v == nil {
			delete(st.Properties, k)
			continue
		}
		st.Properties[k] = cloneValue(v)
	}
	w.bump()
	return nil
}

// DeploymentTypes returns the distinct deployment types of the forward phases in order.
func (w *OrchestrationWorkflow) DeploymentTypes() []DeploymentType {
	seen := make(map[DeploymentType]bool)
	var out []DeploymentType
	for _, p := range w.Phases {
		if !seen[p.DeploymentType] {
			seen[p.DeploymentType] = true
			out = append(out, p.DeploymentType)
		}
	}
	return out
}

// HasSSHPhase returns true if any forward phase deploys over SSH.
func (w *OrchestrationWorkflow) HasSSHPhase() bool {
	for _, p := range w.Phases {
		if p.DeploymentType == DeploymentSSH {
			return true
		}
	}
	return false
}

// HasProvisioners returns true if pre-deployment provisions infrastructure.
func (w *OrchestrationWorkflow) HasProvisioners() bool {
	return w.PreDeploymentSteps.HasStepType(StepCloudFormationCreateStack) ||
		w.PreDeploymentSteps.HasStepType(StepTerraformProvision)
}

// Validate checks the aggregate invariants.
func (w *OrchestrationWorkflow) Validate() error {
	if err := w.Topology.Validate(); err != nil {
		return NewPermanentError("invalid workflow", err).WithCode(ErrCodeValidation).WithResource(w.ID)
	}
	idx := buildIndex(w)
	if len(idx.duplicateIDs) > 0 {
		return NewPermanentError(fmt.Sprintf("duplicate IDs: %v", idx.duplicateIDs), nil).
			WithCode(ErrCodeValidation).WithResource(w.ID)
	}
	if len(w.RollbackByForwardPhaseID) != len(w.Phases) {
		return NewInvariantError(
			fmt.Sprintf("%d forward phases but %d rollback phases", len(w.Phases), len(w.RollbackByForwardPhaseID)),
			nil,
		).WithResource(w.ID)
	}

	for _, p := range w.Phases {
		if p.Rollback {
			return NewInvariantError("rollback phase listed as forward phase", nil).WithResource(p.ID)
		}
		if err := p.DeploymentType.Validate(); err != nil {
			return NewPermanentError("invalid phase", err).WithCode(ErrCodeValidation).WithResource(p.ID)
		}
		rb, err := w.RollbackPhaseFor(p.ID)
		if err != nil {
			return err
		}
		if rb.DeploymentType != p.DeploymentType {
			return NewInvariantError("rollback phase deployment type differs from its forward phase", nil).
				WithResource(rb.ID)
		}
		if !rb.Rollback || rb.RollbackOfPhaseID != p.ID {
			return NewInvariantError("rollback phase does not reference its forward phase", nil).
				WithResource(rb.ID)
		}
		if err := validatePhaseSteps(p); err != nil {
			return err
		}
		if err := validatePhaseSteps(rb); err != nil {
			return err
		}
	}

	for _, ps := range []*PhaseStep{w.PreDeploymentSteps, w.PostDeploymentSteps, w.RollbackProvisioners} {
		if ps == nil {
			continue
		}
		if err := validateStrategies(ps.ID, ps.FailureStrategies); err != nil {
			return err
		}
	}
	return validateStrategies(w.ID, w.FailureStrategies)
}

func validatePhaseSteps(p *WorkflowPhase) error {
	for _, ps := range p.PhaseSteps {
		if ps.Rollback != p.Rollback {
			return NewInvariantError("phase-step rollback flag differs from its phase", nil).WithResource(ps.ID)
		}
		if !ps.Rollback && (ps.RollbackGuardStepType != "" || ps.RollbackGuardStepID != "" || ps.RollbackGuardStatus != "") {
			return NewInvariantError("forward phase-step carries rollback guard", nil).WithResource(ps.ID)
		}
		for _, st := range ps.Steps {
			if st.Rollback != ps.Rollback {
				return NewInvariantError("step rollback flag differs from its phase-step", nil).WithResource(st.ID)
			}
		}
		if err := validateStrategies(ps.ID, ps.FailureStrategies); err != nil {
			return err
		}
	}
	return nil
}

func validateStrategies(owner string, strategies []FailureStrategy) error {
	for i, s := range strategies {
		if err := s.Validate(); err != nil {
			return NewPermanentError(fmt.Sprintf("invalid failure strategy %d", i), err).
				WithCode(ErrCodeValidation).WithResource(owner)
		}
	}
	return nil
}
