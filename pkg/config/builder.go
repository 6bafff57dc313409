package config

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// Builder turns workflow definitions into orchestration workflows.
type Builder struct {
	catalog  *Catalog
	registry *engine.StepTypeRegistry
	starlark *StarlarkEvaluator
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	events   *telemetry.EventPublisher
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// WithTelemetry wires metrics, tracing and events from a telemetry instance.
func WithTelemetry(tel *telemetry.Telemetry) BuilderOption {
	return func(b *Builder) {
		if tel == nil {
			return
		}
		b.metrics = tel.Metrics
		b.tracer = tel.Tracer
		b.events = tel.Events
	}
}

// WithStarlarkEvaluator replaces the overlay evaluator.
func WithStarlarkEvaluator(se *StarlarkEvaluator) BuilderOption {
	return func(b *Builder) { b.starlark = se }
}

// NewBuilder creates a builder resolving services and infrastructure from
// catalog. A nil registry uses the built-in step types.
func NewBuilder(catalog *Catalog, registry *engine.StepTypeRegistry, opts ...BuilderOption) *Builder {
	if registry == nil {
		registry = engine.NewStepTypeRegistry()
	}
	b := &Builder{
		catalog:  catalog,
		registry: registry,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.starlark == nil {
		b.starlark = NewStarlarkEvaluator(DefaultStarlarkTimeout, b.logger)
	}
	return b
}

// Build validates a definition and generates its workflow: workflow-level
// steps and strategies, every phase with its rollback, the artifact check and
// provisioner rollback, then the property overlays. The result passes
// OrchestrationWorkflow.Validate.
func (b *Builder) Build(ctx context.Context, def *WorkflowDefinition) (wf *engine.OrchestrationWorkflow, err error) {
	ctx, span := b.tracer.StartSpan(ctx, "workflow.build")
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
		}
		topology := ""
		if def != nil {
			topology = def.Topology
		}
		b.metrics.RecordWorkflowBuilt(topology, status)
		telemetry.EndSpan(span, err)
	}()

	if errs := ValidateDefinition(def); HasErrors(errs) {
		return nil, engine.NewConfigurationError("invalid workflow definition", &DefinitionError{Errors: errs})
	}

	lookup, err := b.catalog.With(def)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid inline catalog", err)
	}
	phases := engine.NewPhaseBuilder(lookup,
		engine.NewTemplateLibrary(b.registry),
		engine.NewSynthesizer(b.registry),
		engine.WithBuilderLogger(b.logger),
		engine.WithBuilderTelemetry(b.metrics, b.tracer),
	)

	wf = engine.NewOrchestrationWorkflow(def.Name, engine.OrchestrationWorkflowType(def.Topology))
	wf.AccountID = def.AccountID
	wf.FailureStrategies = toFailureStrategies(def.FailureStrategies)
	for _, r := range def.NotificationRules {
		wf.NotificationRules = append(wf.NotificationRules, r.ToNotificationRule())
	}
	if err := b.addSteps(wf.PreDeploymentSteps, def.PreDeploymentSteps, "preDeploymentSteps"); err != nil {
		return nil, err
	}
	if err := b.addSteps(wf.PostDeploymentSteps, def.PostDeploymentSteps, "postDeploymentSteps"); err != nil {
		return nil, err
	}
	wf.Reindex()

	for i, pd := range def.Phases {
		phase, err := phases.AttachPhase(ctx, wf, pd.ToPhaseRequest())
		if err != nil {
			return nil, fmt.Errorf("phases[%d]: %w", i, err)
		}
		if strategies := toFailureStrategies(pd.FailureStrategies); len(strategies) > 0 {
			for _, ps := range phase.PhaseSteps {
				ps.FailureStrategies = append([]engine.FailureStrategy(nil), strategies...)
			}
		}
		b.events.PublishPhaseAttached(wf.ID, phase.ID, phase.Name, string(phase.DeploymentType))
	}

	if err := phases.EnsureArtifactCheck(wf); err != nil {
		return nil, err
	}
	if err := phases.EnsureRollbackProvisioners(wf); err != nil {
		return nil, err
	}

	if len(def.Overlays) > 0 {
		applied, err := ApplyOverlays(ctx, b.starlark, wf, def.Overlays, def.Variables)
		if err != nil {
			return nil, err
		}
		b.logger.Debug().Str("workflow", wf.Name).Int("steps", applied).Msg("Overlays applied")
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("workflow_id", wf.ID).
		Str("workflow", wf.Name).
		Str("topology", string(wf.Topology)).
		Int("phases", len(wf.Phases)).
		Msg("Workflow built")
	b.events.PublishWorkflowBuilt(wf.ID, wf.Name, len(wf.Phases))
	return wf, nil
}

func (b *Builder) addSteps(ps *engine.PhaseStep, defs []StepDefinition, path string) error {
	for i, sd := range defs {
		st, err := b.registry.NewStep(sd.Type, sd.Name, engine.Properties(sd.Properties), false)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		ps.Steps = append(ps.Steps, st)
	}
	return nil
}
