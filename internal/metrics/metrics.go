// Package metrics holds the Prometheus instruments for mediagrab. They are
// served on the liveness server under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound chat messages by routing decision.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_messages_total",
			Help: "Inbound chat messages by routing decision",
		},
		[]string{"decision"}, // help, invalid, fetch
	)

	// FetchesTotal counts completed pipeline runs by outcome.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_fetches_total",
			Help: "Fetch pipeline runs by outcome",
		},
		[]string{"outcome"}, // ok, config, tool, io, delivery, busy
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediagrab_fetch_duration_seconds",
			Help:    "Time spent in the extraction tool",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// FetchThrottleWait records time spent waiting on the fetch rate limiter.
	FetchThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediagrab_fetch_throttle_wait_seconds",
			Help:    "Time fetches waited for the rate limiter",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 180},
		},
	)

	MediaSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_media_sent_total",
			Help: "Media files relayed to chats",
		},
		[]string{"kind", "result"},
	)

	LanesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagrab_lanes_active",
			Help: "Chats with a live request lane",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_http_requests_total",
			Help: "Requests served by the liveness server",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
