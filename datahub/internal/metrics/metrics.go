// Package metrics exposes Prometheus instrumentation for the data hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecocrm_datahub_sync_cycles_total",
		Help: "Completed sync cycles by outcome.",
	}, []string{"outcome"})

	ConversationsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecocrm_datahub_conversations_synced_total",
		Help: "Conversations upserted into staging.",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecocrm_datahub_sync_duration_seconds",
		Help:    "Wall time of a full sync cycle.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	ReportingEventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecocrm_datahub_reporting_event_errors_total",
		Help: "Failed reporting-event fetches, skipped as best-effort.",
	})

	ConversationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecocrm_datahub_conversation_errors_total",
		Help: "Conversations skipped in a cycle because their fetch failed.",
	})
)
