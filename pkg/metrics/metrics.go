package metrics

import (
	"fmt"
	"time"

	"github.com/mchmarny/dermai/pkg/train"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dermai"

// Metrics holds the training and assessment collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Loss and accuracy of the last epoch by phase and split (train, val)
	EpochLoss     *prometheus.GaugeVec
	EpochAccuracy *prometheus.GaugeVec

	LearningRate prometheus.Gauge

	// Completed epochs by phase
	Epochs *prometheus.CounterVec

	// Assessments by risk tier
	Assessments *prometheus.CounterVec

	// Failed assessments by pipeline stage
	Failures *prometheus.CounterVec

	AssessLatency prometheus.Histogram
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EpochLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_loss",
			Help:      "Cross-entropy loss of the last completed epoch",
		}, []string{"phase", "split"}),

		EpochAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_accuracy",
			Help:      "Accuracy of the last completed epoch",
		}, []string{"phase", "split"}),

		LearningRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_rate",
			Help:      "Optimizer learning rate of the last completed epoch",
		}),

		Epochs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Total completed training epochs by phase",
		}, []string{"phase"}),

		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Total completed assessments by risk tier",
		}, []string{"tier"}),

		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessment_failures_total",
			Help:      "Total failed assessments by pipeline stage",
		}, []string{"stage"}),

		AssessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Duration of a full assessment including preprocessing and inference",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveEpoch records one completed training epoch.
func (m *Metrics) ObserveEpoch(rec train.EpochRecord) {
	if m == nil {
		return
	}
	m.EpochLoss.WithLabelValues(rec.Phase, "train").Set(rec.Loss)
	m.EpochLoss.WithLabelValues(rec.Phase, "val").Set(rec.ValLoss)
	m.EpochAccuracy.WithLabelValues(rec.Phase, "train").Set(rec.Accuracy)
	m.EpochAccuracy.WithLabelValues(rec.Phase, "val").Set(rec.ValAccuracy)
	m.LearningRate.Set(rec.LearningRate)
	m.Epochs.WithLabelValues(rec.Phase).Inc()
}

// ObserveAssessment records a completed assessment.
func (m *Metrics) ObserveAssessment(tier string, elapsed time.Duration) {
	if m != nil {
		m.Assessments.WithLabelValues(tier).Inc()
		m.AssessLatency.Observe(elapsed.Seconds())
	}
}

// ObserveFailure records an assessment that failed at stage.
func (m *Metrics) ObserveFailure(stage string) {
	if m != nil {
		m.Failures.WithLabelValues(stage).Inc()
	}
}

// WriteTextfile writes the current values in the text exposition format,
// for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", path, err)
	}
	return nil
}
