// Package metrics exposes Prometheus metrics for the pipeline: stage and
// workflow outcomes, rollout state, shadow comparisons, and queue depth.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docflow-ai/docflow"
)

// Collector holds the pipeline metric families.
type Collector struct {
	stagesTotal    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	workflowsTotal *prometheus.CounterVec

	rolloutPercentage prometheus.Gauge
	rollbackTriggered prometheus.Gauge

	shadowTotal *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewCollector registers the metric families with the given registerer. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewCollector(namespace string, registerer prometheus.Registerer) *Collector {
	factory := promauto.With(registerer)
	return &Collector{
		stagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_total",
				Help:      "Total number of agent invocations",
			},
			[]string{"stage", "status", "variant"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Agent invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "variant"},
		),
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_total",
				Help:      "Total number of workflows by terminal status",
			},
			[]string{"status", "variant"},
		),
		rolloutPercentage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rollout_percentage",
				Help:      "Share of new workflows assigned to the treatment variant",
			},
		),
		rollbackTriggered: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rollout_rollback_triggered",
				Help:      "1 while automatic rollback is in effect",
			},
		),
		shadowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shadow_comparisons_total",
				Help:      "Total number of shadow comparison runs",
			},
			[]string{"shadow_status"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Jobs waiting in the queue",
			},
		),
	}
}

// ObserveRollout reflects the controller's current configuration.
func (c *Collector) ObserveRollout(config docflow.RolloutConfig) {
	c.rolloutPercentage.Set(float64(config.Percentage))
	if config.RollbackTriggered {
		c.rollbackTriggered.Set(1)
	} else {
		c.rollbackTriggered.Set(0)
	}
}

// ObserveShadow counts one shadow comparison by its outcome.
func (c *Collector) ObserveShadow(status docflow.WorkflowStatus) {
	c.shadowTotal.WithLabelValues(string(status)).Inc()
}

// ObserveQueueDepth sets the queue depth gauge.
func (c *Collector) ObserveQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// Callbacks returns execution callbacks that record stage and workflow
// outcomes, for chaining into an engine.
func (c *Collector) Callbacks() docflow.ExecutionCallbacks {
	return &callbacks{collector: c}
}

type callbacks struct {
	docflow.BaseExecutionCallbacks
	collector *Collector
}

func (cb *callbacks) AfterStage(ctx context.Context, event *docflow.StageEvent) {
	if event.Result == nil {
		return
	}
	cb.collector.stagesTotal.WithLabelValues(
		string(event.Stage), string(event.Result.Status), string(event.Variant)).Inc()
	cb.collector.stageDuration.WithLabelValues(
		string(event.Stage), string(event.Variant)).Observe(event.Duration.Seconds())
}

func (cb *callbacks) AfterWorkflow(ctx context.Context, event *docflow.WorkflowEvent) {
	cb.collector.workflowsTotal.WithLabelValues(
		string(event.Status), string(event.Variant)).Inc()
}
