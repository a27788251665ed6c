package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of security events accepted by ingress",
		},
		[]string{"type"},
	)

	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_events_rejected_total",
			Help: "Total number of raw events rejected by validation",
		},
	)

	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_threats_detected_total",
			Help: "Total number of threats emitted by detection mechanisms",
		},
		[]string{"mechanism"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity"},
	)

	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_created_total",
			Help: "Total number of incidents escalated from alerts",
		},
	)

	ContainmentActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_containment_actions_total",
			Help: "Total number of containment actions dispatched",
		},
		[]string{"action"},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_notification_failures_total",
			Help: "Total number of failed alert notification deliveries",
		},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_persistence_failures_total",
			Help: "Total number of failed fire-and-forget store writes",
		},
		[]string{"entity"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_event_processing_duration_seconds",
			Help:    "Time taken to run detection for one event",
			Buckets: prometheus.DefBuckets,
		},
	)
)
