// Package metrics provides Prometheus metric collectors for the
// application's components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains Prometheus metrics for training and inference
type ClassifierMetrics struct {
	registry *prometheus.Registry

	trainingsTotal   *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec

	classificationsTotal *prometheus.CounterVec
	inferenceDuration    *prometheus.HistogramVec
	predictionsSaved     prometheus.Counter
}

// NewClassifierMetrics creates and registers new classifier metrics
func NewClassifierMetrics(registry *prometheus.Registry) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ClassifierMetrics) initMetrics() {
	m.trainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_trainings_total",
			Help: "Total number of training cycles",
		},
		[]string{"architecture", "status"}, // status: success, error
	)

	m.trainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_training_duration_seconds",
			Help:    "Time taken for full training cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		},
		[]string{"architecture"},
	)

	m.classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_classifications_total",
			Help: "Total number of classification requests",
		},
		[]string{"architecture", "status"},
	)

	m.inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_inference_duration_seconds",
			Help:    "Time taken for single-image inference",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"architecture"},
	)

	m.predictionsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_predictions_saved_total",
			Help: "Total number of prediction rows persisted",
		},
	)
}

// RecordTraining counts a completed training cycle by outcome
func (m *ClassifierMetrics) RecordTraining(architecture, status string) {
	m.trainingsTotal.WithLabelValues(architecture, status).Inc()
}

// RecordTrainingDuration observes a full training cycle duration
func (m *ClassifierMetrics) RecordTrainingDuration(architecture string, seconds float64) {
	m.trainingDuration.WithLabelValues(architecture).Observe(seconds)
}

// RecordClassification counts a classification request by outcome
func (m *ClassifierMetrics) RecordClassification(architecture, status string) {
	m.classificationsTotal.WithLabelValues(architecture, status).Inc()
}

// RecordInferenceDuration observes a single inference duration
func (m *ClassifierMetrics) RecordInferenceDuration(architecture string, seconds float64) {
	m.inferenceDuration.WithLabelValues(architecture).Observe(seconds)
}

// RecordPredictionsSaved counts persisted prediction rows
func (m *ClassifierMetrics) RecordPredictionsSaved(count int) {
	m.predictionsSaved.Add(float64(count))
}

// Describe implements the prometheus.Collector interface
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.trainingsTotal.Describe(ch)
	m.trainingDuration.Describe(ch)
	m.classificationsTotal.Describe(ch)
	m.inferenceDuration.Describe(ch)
	m.predictionsSaved.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.trainingsTotal.Collect(ch)
	m.trainingDuration.Collect(ch)
	m.classificationsTotal.Collect(ch)
	m.inferenceDuration.Collect(ch)
	m.predictionsSaved.Collect(ch)
}
