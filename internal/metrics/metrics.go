// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notify_bridge"

// Pipeline stages used as the "stage" label of NotificationFailures.
const (
	StageParse    = "parse"
	StageFetch    = "fetch"
	StageDispatch = "dispatch"
	StageQueue    = "queue"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Open client connections.",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound messages read from clients.",
	})

	NotificationsShown = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_shown_total",
		Help:      "Notifications accepted by the desktop notification service.",
	})

	NotificationsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notifications_live",
		Help:      "Notifications still awaiting a user action or close.",
	})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Messages whose handling failed, by pipeline stage.",
	}, []string{"stage"})

	ActionsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_routed_total",
		Help:      "User actions reported back to clients, by action and outcome.",
	}, []string{"action", "outcome"})

	AttachmentFetchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "attachment_fetch_duration_seconds",
		Help:      "Time spent fetching and staging notification images.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
)
