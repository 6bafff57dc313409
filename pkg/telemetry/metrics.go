package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for phasekit.
//
// All recording methods are safe to call on a nil *Metrics and on a
// disabled instance; both record nothing.
type Metrics struct {
	config MetricsConfig

	// Phase generation
	phasesGenerated  *prometheus.CounterVec
	phaseGenDuration *prometheus.HistogramVec
	rollbacksCreated *prometheus.CounterVec
	workflowsBuilt   *prometheus.CounterVec
	workflowsManaged prometheus.Gauge

	// Execution advice
	adviceIssued         *prometheus.CounterVec
	adviceDuration       prometheus.Histogram
	collaboratorFailures *prometheus.CounterVec

	// Policy
	policyEvaluations *prometheus.CounterVec
	policyViolations  *prometheus.CounterVec

	// Store
	storeOperations *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec

	// Errors
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		phasesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_generated_total",
				Help:      "Total number of workflow phases generated",
			},
			[]string{"deployment_type", "status"},
		),
		phaseGenDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_generation_duration_seconds",
				Help:      "Duration of phase generation in seconds",
				Buckets:   buckets,
			},
			[]string{"deployment_type"},
		),
		rollbacksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_phases_synthesized_total",
				Help:      "Total number of rollback phases synthesized",
			},
			[]string{"deployment_type"},
		),
		workflowsBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_built_total",
				Help:      "Total number of workflows built from definitions",
			},
			[]string{"topology", "status"},
		),
		workflowsManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflows_managed",
				Help:      "Current number of stored workflows",
			},
		),

		adviceIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "advice_issued_total",
				Help:      "Total number of execution events advised, by advice type",
			},
			[]string{"interrupt_type"},
		),
		adviceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "advice_duration_seconds",
				Help:      "Duration of execution event advice in seconds",
				Buckets:   buckets,
			},
		),
		collaboratorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collaborator_failures_total",
				Help:      "Total number of failed or panicking collaborator calls",
			},
			[]string{"collaborator"},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of workflow policy evaluations",
			},
			[]string{"result"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		storeOperations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of store operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed store operations",
			},
			[]string{"operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.phasesGenerated,
		m.phaseGenDuration,
		m.rollbacksCreated,
		m.workflowsBuilt,
		m.workflowsManaged,
		m.adviceIssued,
		m.adviceDuration,
		m.collaboratorFailures,
		m.policyEvaluations,
		m.policyViolations,
		m.storeOperations,
		m.storeErrors,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Phase Metrics

// RecordPhaseGeneration records a phase build or regeneration.
func (m *Metrics) RecordPhaseGeneration(deploymentType, status string, duration time.Duration) {
	if m == nil || m.phasesGenerated == nil {
		return
	}
	m.phasesGenerated.WithLabelValues(deploymentType, status).Inc()
	m.phaseGenDuration.WithLabelValues(deploymentType).Observe(duration.Seconds())
}

// RecordRollbackSynthesized counts a synthesized rollback phase.
func (m *Metrics) RecordRollbackSynthesized(deploymentType string) {
	if m == nil || m.rollbacksCreated == nil {
		return
	}
	m.rollbacksCreated.WithLabelValues(deploymentType).Inc()
}

// RecordWorkflowBuilt counts a workflow built from a definition.
func (m *Metrics) RecordWorkflowBuilt(topology, status string) {
	if m == nil || m.workflowsBuilt == nil {
		return
	}
	m.workflowsBuilt.WithLabelValues(topology, status).Inc()
}

// SetWorkflowCount sets the number of stored workflows.
func (m *Metrics) SetWorkflowCount(count float64) {
	if m == nil || m.workflowsManaged == nil {
		return
	}
	m.workflowsManaged.Set(count)
}

// Advice Metrics

// RecordAdvice records an advised execution event. interruptType is the
// advice type, or NONE when no advice was issued.
func (m *Metrics) RecordAdvice(interruptType string, duration time.Duration) {
	if m == nil || m.adviceIssued == nil {
		return
	}
	m.adviceIssued.WithLabelValues(interruptType).Inc()
	m.adviceDuration.Observe(duration.Seconds())
}

// RecordCollaboratorFailure counts a failed collaborator call.
func (m *Metrics) RecordCollaboratorFailure(collaborator string) {
	if m == nil || m.collaboratorFailures == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(collaborator).Inc()
}

// Policy Metrics

// RecordPolicyEvaluation records a policy evaluation result (allowed, denied).
func (m *Metrics) RecordPolicyEvaluation(result string) {
	if m == nil || m.policyEvaluations == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(result).Inc()
}

// RecordPolicyViolation counts a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m == nil || m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Store Metrics

// RecordStoreOperation records a store call and whether it failed.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil || m.storeOperations == nil {
		return
	}
	m.storeOperations.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(operation).Inc()
	}
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on an observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// WriteTextfile writes the registry to the configured textfile. It does
// nothing without a textfile or with metrics disabled.
func (m *Metrics) WriteTextfile() error {
	if m == nil || m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", m.config.Textfile, err)
	}
	return nil
}
