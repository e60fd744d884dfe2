package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocrm_api_webhooks_total",
			Help: "Total number of webhook calls by outcome",
		},
		[]string{"outcome"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecocrm_api_webhook_bytes_total",
			Help: "Total bytes of webhook payloads accepted",
		},
	)

	StreamPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecocrm_api_stream_publish_errors_total",
			Help: "Total number of failed stream publishes",
		},
	)

	// Registry metrics
	VersionsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecocrm_api_crew_versions_published_total",
			Help: "Total number of crew versions published",
		},
	)
)
