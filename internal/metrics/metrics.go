// Package metrics exposes the pipeline's operational counters on the
// Prometheus registry served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished job runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_job_runs_total",
		Help: "Job runs by job name and terminal status",
	}, []string{"job", "status"})

	// StepsTotal counts steps executed (not replayed from persisted output).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_job_steps_total",
		Help: "Executed job steps by job name",
	}, []string{"job"})

	// ProbeChecksTotal counts citation probe calls by outcome.
	ProbeChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_probe_checks_total",
		Help: "Citation probe calls by outcome",
	}, []string{"outcome"})

	// EventsPublishedTotal counts alert events handed to the bus.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_events_published_total",
		Help: "Alert events published by event type",
	}, []string{"type"})

	// NotificationsTotal counts outbound notification attempts.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citewatch_notifications_total",
		Help: "Notification attempts by channel and outcome",
	}, []string{"channel", "outcome"})
)
