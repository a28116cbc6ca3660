package notify

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systemstart/browser-build/pkg/runner"
)

// Metrics records step and pipeline outcomes in a private registry that
// is written out as a node-exporter textfile when the process exits.
type Metrics struct {
	registry *prometheus.Registry

	stepDuration     *prometheus.HistogramVec
	stepResults      *prometheus.CounterVec
	pipelineDuration *prometheus.GaugeVec
	pipelineRuns     *prometheus.CounterVec
}

// NewMetrics creates a metrics sink with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browser_build_step_duration_seconds",
				Help:    "Duration of pipeline steps",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15),
			},
			[]string{"pipeline", "step"},
		),
		stepResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browser_build_step_results_total",
				Help: "Pipeline step outcomes",
			},
			[]string{"pipeline", "step", "status"},
		),
		pipelineDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "browser_build_pipeline_duration_seconds",
				Help: "Duration of the last pipeline run",
			},
			[]string{"pipeline"},
		),
		pipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browser_build_pipeline_runs_total",
				Help: "Pipeline runs by final state",
			},
			[]string{"pipeline", "state"},
		),
	}
}

// Register subscribes m to step and pipeline completion events.
func (m *Metrics) Register(s runner.Subscriber) {
	for _, t := range []runner.EventType{runner.StepEnd, runner.StepError, runner.StepSkip, runner.PipelineEnd} {
		s.Subscribe(t, m.Handle)
	}
}

// Handle records e.
func (m *Metrics) Handle(e runner.Event) {
	switch e.Type {
	case runner.StepEnd:
		m.stepDuration.WithLabelValues(e.Pipeline, e.Step).Observe(e.Duration.Seconds())
		m.stepResults.WithLabelValues(e.Pipeline, e.Step, "succeeded").Inc()
	case runner.StepError:
		m.stepDuration.WithLabelValues(e.Pipeline, e.Step).Observe(e.Duration.Seconds())
		m.stepResults.WithLabelValues(e.Pipeline, e.Step, "failed").Inc()
	case runner.StepSkip:
		m.stepResults.WithLabelValues(e.Pipeline, e.Step, "skipped").Inc()
	case runner.PipelineEnd:
		state, _ := e.Metadata["state"].(string)
		if state == "" {
			state = "unknown"
		}
		m.pipelineDuration.WithLabelValues(e.Pipeline).Set(e.Duration.Seconds())
		m.pipelineRuns.WithLabelValues(e.Pipeline, state).Inc()
	}
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
