package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	NotificationsReceived prometheus.Counter
	DuplicateEvents       prometheus.Counter
	DispatchSuccesses     prometheus.Counter
	DispatchFailures      prometheus.Counter
	TelegramUpdates       prometheus.Counter
	RepliesSent           prometheus.Counter
	GenerationFailures    prometheus.Counter
	ProcessingTime        prometheus.Histogram
	ActiveSubscribers     prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		NotificationsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_notifications_received_total",
			Help: "Total number of mail-change events received from webhooks",
		}),
		DuplicateEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_duplicate_events_total",
			Help: "Total number of mail-change events skipped by the dedup gate",
		}),
		DispatchSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_dispatch_successes_total",
			Help: "Total number of notifications dispatched to Telegram",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_dispatch_failures_total",
			Help: "Total number of notifications that failed processing",
		}),
		TelegramUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_telegram_updates_total",
			Help: "Total number of Telegram updates handled",
		}),
		RepliesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_replies_sent_total",
			Help: "Total number of replies sent back through the mailbox",
		}),
		GenerationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_bridge_generation_failures_total",
			Help: "Total number of failed language-generation calls",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_bridge_processing_duration_seconds",
			Help:    "Time spent processing one mail notification",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mail_bridge_active_subscribers",
			Help: "Number of registered Telegram subscribers",
		}),
	}
}
