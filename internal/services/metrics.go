package services

import "github.com/prometheus/client_golang/prometheus"

var (
	recommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_total",
			Help: "Recommendation attempts by outcome (recommended|already_recommended|not_found|invalid|error).",
		},
		[]string{"outcome"},
	)
	duplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_duplicates_total",
			Help: "Repeat recommendations by the strategy that caught them.",
		},
		[]string{"strategy"},
	)
	dedupeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_dedupe_errors_total",
			Help: "Duplicate checks that failed and were treated as no match.",
		},
		[]string{"strategy"},
	)
	counterFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendation_counter_failures_total",
			Help: "Recommendation count increments that failed after a successful insert.",
		},
	)
)

func init() {
	prometheus.MustRegister(recommendationsTotal, duplicatesTotal, dedupeErrorsTotal, counterFailuresTotal)
}
