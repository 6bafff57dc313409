package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/phasekit/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("phasekit started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates component loggers with workflow fields.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("advisor").
		WithExecution("exec-123", "wf-456").
		WithPhase("phase-1", "Phase 1")

	logger.Debug("Resolving failure strategy")
	logger.WithError(fmt.Errorf("connection refused")).Warn("Attempt history unavailable")
}

// Example_metrics demonstrates recording advice and phase generation metrics.
func Example_metrics() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	timer := telemetry.NewTimer()
	tel.Metrics.RecordPhaseGeneration("KUBERNETES", "success", timer.Duration())
	tel.Metrics.RecordAdvice("RETRY", 2*time.Millisecond)
	tel.Metrics.RecordCollaboratorFailure("attempt_history")
}

// Example_events demonstrates subscribing to phase status changes.
func Example_events() {
	cfg := telemetry.EventsConfig{Enabled: true, BufferSize: 10}
	events, _ := telemetry.NewEventPublisher(cfg)
	defer events.Shutdown(context.Background())

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Message)
	}, telemetry.FilterByType(telemetry.EventTypePhaseStatusChanged))

	_ = events.PublishPhaseStatusChanged("exec-1", "wf-1", "phase-1", "Phase 1", "FAILED", nil)
	_ = events.PublishAdviceIssued("exec-1", "phase-1", "ROLLBACK", "Rollback Phase 1")

	// Output:
	// phase.status_changed Phase 1 is FAILED
}
