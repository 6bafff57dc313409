package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// ErrCodePolicyDenied is the error code of a workflow rejected by policy.
const ErrCodePolicyDenied = "POLICY_DENIED"

// IsPolicyDenied returns true if the error is a policy rejection.
func IsPolicyDenied(err error) bool {
	return engine.ErrorCode(err) == ErrCodePolicyDenied
}

// Gate checks generated workflows against the policy engine before they are
// saved or printed.
type Gate struct {
	engine  *Engine
	mode    Mode
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger.
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// WithGateTelemetry wires metrics, tracing and events.
func WithGateTelemetry(tel *telemetry.Telemetry) GateOption {
	return func(g *Gate) {
		if tel == nil {
			return
		}
		g.metrics = tel.Metrics
		g.tracer = tel.Tracer
		g.events = tel.Events
	}
}

// NewGate creates a gate. An empty mode is enforcing.
func NewGate(e *Engine, mode Mode, opts ...GateOption) (*Gate, error) {
	switch mode {
	case "":
		mode = ModeEnforcing
	case ModeAdvisory, ModeEnforcing:
	default:
		return nil, fmt.Errorf("invalid policy mode: %s", mode)
	}
	g := &Gate{engine: e, mode: mode, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Mode returns the gate mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// Check evaluates a workflow. The result is always returned when evaluation
// ran; in enforcing mode a denied workflow also yields a POLICY_DENIED error.
func (g *Gate) Check(ctx context.Context, wf *engine.OrchestrationWorkflow, ectx *EvalContext) (res *Result, err error) {
	ctx, span := g.tracer.StartSpan(ctx, "policy.check")
	defer func() {
		if IsPolicyDenied(err) {
			telemetry.EndSpan(span, nil)
			return
		}
		telemetry.EndSpan(span, err)
	}()

	res, err = g.engine.Evaluate(ctx, wf, ectx)
	if err != nil {
		g.metrics.RecordPolicyEvaluation("error")
		return nil, err
	}

	for _, v := range res.All() {
		g.metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		if v.Severity.Blocking() {
			_ = g.events.PublishPolicyViolation(wf.ID, v.Policy, v.Message)
		}
		g.logger.Warn().
			Str("workflow_id", wf.ID).
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("resource", v.Resource).
			Msg(v.Message)
	}

	if res.Allowed {
		g.metrics.RecordPolicyEvaluation("allowed")
		return res, nil
	}
	if g.mode == ModeAdvisory {
		g.metrics.RecordPolicyEvaluation("advisory")
		return res, nil
	}

	g.metrics.RecordPolicyEvaluation("denied")
	return res, engine.NewPermanentError(
		fmt.Sprintf("workflow rejected by %d policy violation(s): %s", len(res.Violations), res.Violations[0].Message), nil).
		WithCode(ErrCodePolicyDenied).
		WithResource(wf.ID).
		WithDetail("violations", len(res.Violations))
}
