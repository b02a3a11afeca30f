package metrics

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	deadLetters  *prometheus.CounterVec
}

// NewPrometheusCollector registers the engine metrics on registry, or on the
// default registerer when registry is nil.
func NewPrometheusCollector(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusCollector{
		executionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_executions_started_total",
				Help: "Total number of workflow executions started",
			},
			[]string{"definition_id"},
		),
		executionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_executions_finished_total",
				Help: "Total number of workflow executions that reached a terminal status",
			},
			[]string{"definition_id", "status"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoflow_execution_duration_seconds",
				Help:    "Wall-clock duration of workflow executions, waits included",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"definition_id", "status"},
		),
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_steps_total",
				Help: "Total number of node steps by outcome",
			},
			[]string{"node_type", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoflow_step_duration_seconds",
				Help:    "Duration of node handler calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_retries_scheduled_total",
				Help: "Total number of node retries scheduled",
			},
			[]string{"node_type", "category"},
		),
		deadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoflow_dead_letters_total",
				Help: "Total number of executions moved to the dead letter queue",
			},
			[]string{"definition_id", "error_type"},
		),
	}
}

func (c *PrometheusCollector) RecordExecutionStarted(definitionID string) {
	c.executionsStarted.WithLabelValues(definitionID).Inc()
}

func (c *PrometheusCollector) RecordExecutionFinished(definitionID string, status models.ExecutionStatus, duration time.Duration) {
	c.executionsFinished.WithLabelValues(definitionID, string(status)).Inc()
	c.executionDuration.WithLabelValues(definitionID, string(status)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordStep(nodeType models.NodeType, status models.StepStatus, duration time.Duration) {
	c.steps.WithLabelValues(string(nodeType), string(status)).Inc()

	if status == models.StepStatusSuccess || status == models.StepStatusFailed {
		c.stepDuration.WithLabelValues(string(nodeType)).Observe(duration.Seconds())
	}
}

func (c *PrometheusCollector) RecordRetryScheduled(nodeType models.NodeType, category string) {
	c.retries.WithLabelValues(string(nodeType), category).Inc()
}

func (c *PrometheusCollector) RecordDeadLetter(definitionID string, errorType string) {
	c.deadLetters.WithLabelValues(definitionID, errorType).Inc()
}
