// Package metrics holds the Prometheus collectors shared by the worker and
// tracking binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "campaign_messages_enqueued_total", Help: "Messages created by campaign enqueue"},
	)
	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_messages_dispatched_total", Help: "Messages handed to the transport, by outcome"},
		[]string{"outcome"},
	)
	CampaignsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_campaigns_started_total", Help: "Scheduled campaigns moved to sending"},
	)
	CampaignsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_campaigns_completed_total", Help: "Campaigns moved to sent"},
	)
	CampaignsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_campaigns_recovered_total", Help: "Sending campaigns re-enqueued by the recovery pass"},
	)
	TicksAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_ticks_aborted_total", Help: "Ticks that stopped early, by loop and reason"},
		[]string{"loop", "reason"},
	)
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_tick_duration_seconds",
			Help:    "Time spent in one scheduler or queue tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)
	TrackingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_events_total", Help: "Tracking events recorded, by type"},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesEnqueued, MessagesDispatched, CampaignsStarted, CampaignsCompleted,
		CampaignsRecovered, TicksAborted, TickDuration, TrackingEvents,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
