package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.Endpoint = ""
			},
			wantErr: "endpoint",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
		{name: "events disabled", mutate: func(c *Config) { c.Events = EventsConfig{} }},
		{
			name: "sampling counts",
			mutate: func(c *Config) {
				c.Logging.EnableSampling = true
				c.Logging.SamplingThereafter = 0
			},
			wantErr: "log sampling",
		},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, wantErr: "trace exporter"},
		{name: "exporter ignored when disabled", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordPhaseGeneration("ECS", "success", time.Millisecond)
	m.RecordAdvice("RETRY", time.Millisecond)
	m.RecordCollaboratorFailure("notifier")
	m.RecordPolicyEvaluation("allowed")
	m.RecordStoreOperation("get", time.Millisecond, errors.New("boom"))
	m.RecordError("permanent", "VALIDATION_ERROR")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
	if err := m.WriteTextfile(); err != nil {
		t.Errorf("WriteTextfile() error = %v", err)
	}
}

func TestMetricsRecordAdvice(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordAdvice("RETRY", time.Millisecond)
	m.RecordAdvice("RETRY", time.Millisecond)
	m.RecordAdvice("ROLLBACK", time.Millisecond)
	m.RecordCollaboratorFailure("interrupt_source")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	got := counterValue(families, "test_advice_issued_total", "interrupt_type", "RETRY")
	if got != 2 {
		t.Errorf("advice_issued_total{RETRY} = %v, want 2", got)
	}
	got = counterValue(families, "test_collaborator_failures_total", "collaborator", "interrupt_source")
	if got != 1 {
		t.Errorf("collaborator_failures_total = %v, want 1", got)
	}
}

func counterValue(families []*dto.MetricFamily, name, label, value string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEventPublisherSynchronousDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	defer ep.Shutdown(context.Background())

	var received []Event
	ep.Subscribe(func(e Event) { received = append(received, e) }, FilterByExecutionID("exec-1"))
	ep.AddFilter(FilterByLevel(EventLevelWarning))

	_ = ep.PublishAdviceIssued("exec-1", "s1", "RETRY", "")
	_ = ep.PublishPhaseStatusChanged("exec-1", "wf-1", "p1", "Phase 1", "FAILED", []string{"ops"})
	_ = ep.PublishPhaseStatusChanged("exec-2", "wf-1", "p1", "Phase 1", "FAILED", nil)
	_ = ep.PublishInterruptRaised("exec-1", "ABORT_ALL")

	if len(received) != 2 {
		t.Fatalf("received %d events, want 2", len(received))
	}
	if received[0].Type != EventTypePhaseStatusChanged || received[0].Level != EventLevelError {
		t.Errorf("first event = %s/%s", received[0].Type, received[0].Level)
	}
	if received[0].ID == "" || received[0].Timestamp.IsZero() {
		t.Error("event ID and timestamp should be assigned")
	}
	if received[1].Type != EventTypeInterruptRaised {
		t.Errorf("second event type = %s", received[1].Type)
	}
}

func TestNilTracerStartsNoopSpan(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartAdviceSpan(context.Background(), "exec", "state")
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil context and span")
	}
	if span.IsRecording() {
		t.Error("nil tracer span should not record")
	}
	RecordError(span, errors.New("ignored"))
	span.End()
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestMetricsWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phasekit.prom")
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", Textfile: path})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordStoreOperation("get_workflow", time.Millisecond, nil)

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `test_store_operation_duration_seconds_count{operation="get_workflow"} 1`) {
		t.Errorf("textfile missing store histogram:\n%s", data)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   16,
		MaxBatchSize: 4,
		EnableAsync:  true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.ExecutionID)
	}, nil)

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5", "e6"} {
		if err := ep.PublishInterruptRaised(id, "ABORT_ALL"); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "e1,e2,e3,e4,e5,e6" {
		t.Errorf("delivered %v, want all six in order", got)
	}
	if err := ep.PublishInterruptRaised("late", "ABORT_ALL"); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("Publish() after Shutdown error = %v, want ErrPublisherStopped", err)
	}
}

func TestStartOperationCarriesExecutionFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "disabled"
	cfg.Metrics.Enabled = false
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := WithExecutionContext(tel.WithContext(context.Background()), "exec-1", "wf-1")
	op := StartOperation(ctx, "cli.advise")
	defer op.End(nil)

	if FromContext(op.Ctx) != op.Logger {
		t.Error("operation context should carry the operation logger")
	}
	if op.Span == nil || op.Timer == nil {
		t.Fatal("expected span and timer")
	}

	// Without telemetry the operation still works, with a non-recording span.
	bare := StartOperation(context.Background(), "bare")
	if bare.Span.IsRecording() {
		t.Error("span without telemetry should not record")
	}
	bare.End(errors.New("ignored"))
}
