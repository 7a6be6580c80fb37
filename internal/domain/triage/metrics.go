package triage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the business counters of the triage service.
type Metrics struct {
	classifications *prometheus.CounterVec
	criticalMatches prometheus.Counter
	unknownSymptoms prometheus.Counter
	scores          prometheus.Histogram
	reclassified    *prometheus.CounterVec
}

// NewMetrics registers the triage collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		classifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_classifications_total",
				Help: "Total number of triage classifications by resolved risk level",
			},
			[]string{"level"},
		),
		criticalMatches: f.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_critical_combination_matches_total",
				Help: "Total number of classifications forced to high risk by a critical combination",
			},
		),
		unknownSymptoms: f.NewCounter(
			prometheus.CounterOpts{
				Name: "triage_unknown_symptoms_total",
				Help: "Total number of submitted symptom identifiers missing from the catalog",
			},
		),
		scores: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "triage_score",
				Help:    "Distribution of triage risk scores",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20},
			},
		),
		reclassified: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_reclassifications_total",
				Help: "Total number of stored assessments re-run through the reference table",
			},
			[]string{"changed"},
		),
	}
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(string(r.Level)).Inc()
	m.scores.Observe(float64(r.Score))
	if r.CriticalMatch != nil {
		m.criticalMatches.Inc()
	}
	if n := len(r.Warnings); n > 0 {
		m.unknownSymptoms.Add(float64(n))
	}
}

func (m *Metrics) observeReclassify(changed bool) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.reclassified.WithLabelValues(label).Inc()
}
