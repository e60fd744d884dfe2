package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecocrm_botrunner_messages_total",
			Help: "Total number of stream messages consumed by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ecocrm_botrunner_run_duration_seconds",
			Help:    "Duration of crew executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplyErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecocrm_botrunner_reply_errors_total",
			Help: "Total number of failed Chatwoot reply deliveries",
		},
	)

	ConsumeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ecocrm_botrunner_consume_errors_total",
			Help: "Total number of stream read failures",
		},
	)
)
