package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for classification. A nil *Metrics records nothing.
type Metrics struct {
	// patternMatches counts matches per pattern.
	// Labels: pattern_id, method
	patternMatches *prometheus.CounterVec

	// tasks counts finished tasks.
	// Labels: outcome (sensitive, not_sensitive, failed)
	tasks *prometheus.CounterVec

	// reviews counts secondary review attempts.
	// Labels: outcome (applied, unchanged, timeout, error)
	reviews *prometheus.CounterVec

	// unfinished counts tasks abandoned at the batch deadline
	unfinished prometheus.Counter

	// taskDuration measures one classification in seconds
	taskDuration prometheus.Histogram

	// batchDuration measures a whole run in seconds
	batchDuration prometheus.Histogram
}

// NewMetrics registers the classification collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		patternMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiscan",
			Name:      "pattern_matches_total",
			Help:      "Total fields matched per sensitivity pattern",
		}, []string{"pattern_id", "method"}),

		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiscan",
			Name:      "tasks_total",
			Help:      "Total classification tasks by outcome",
		}, []string{"outcome"}),

		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piiscan",
			Name:      "reviews_total",
			Help:      "Total secondary review attempts by outcome",
		}, []string{"outcome"}),

		unfinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "piiscan",
			Name:      "unfinished_tasks_total",
			Help:      "Total tasks left unfinished at the batch deadline",
		}),

		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "piiscan",
			Name:      "task_duration_seconds",
			Help:      "Time to classify one field",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.1, 1},
		}),

		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "piiscan",
			Name:      "batch_duration_seconds",
			Help:      "Time to classify a whole schema",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}
}

func (m *Metrics) recordMatch(patternID string, method DetectionMethod) {
	if m == nil {
		return
	}
	m.patternMatches.WithLabelValues(patternID, string(method)).Inc()
}

func (m *Metrics) recordTask(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
	m.taskDuration.Observe(d.Seconds())
}

func (m *Metrics) recordReview(outcome string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordBatch(unfinished int, d time.Duration) {
	if m == nil {
		return
	}
	m.unfinished.Add(float64(unfinished))
	m.batchDuration.Observe(d.Seconds())
}
