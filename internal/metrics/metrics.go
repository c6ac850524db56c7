// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "middlelayer"

var (
	// RequestsTotal counts dispatched actions by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of dispatched actions",
		},
		[]string{"action", "status"},
	)

	// RequestDuration measures time from submission to completion.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of dispatched actions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// ProcedureDuration measures stored procedure calls per account.
	ProcedureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "procedure_duration_seconds",
			Help:      "Duration of stored procedure calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"account", "status"},
	)

	// LoginsTotal counts login attempts.
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Total number of login attempts",
		},
		[]string{"account", "status"},
	)

	// SessionsEvicted counts sessions removed by the reaper.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of idle sessions evicted",
		},
	)

	// ActiveWorkers tracks the current size of the worker pool.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Number of live dispatcher workers",
		},
	)

	// RejectedTotal counts submissions the pool could not accept.
	RejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Total number of submissions rejected by the worker pool",
		},
	)
)

// RecordRequest records a finished action.
func RecordRequest(action, status string, duration float64) {
	RequestsTotal.WithLabelValues(action, status).Inc()
	RequestDuration.WithLabelValues(action).Observe(duration)
}

// RecordProcedure records a stored procedure call.
func RecordProcedure(account, status string, duration float64) {
	ProcedureDuration.WithLabelValues(account, status).Observe(duration)
}

// RecordLogin records a login attempt.
func RecordLogin(account string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	LoginsTotal.WithLabelValues(account, status).Inc()
}
