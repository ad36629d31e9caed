package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SamplesWritten counts sampling cycles that reached the store.
	// status: success/failed
	SamplesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatr_samples_written_total",
			Help: "Total number of location samples written by the sampling loop.",
		},
		[]string{"status"},
	)

	// CyclesSkipped counts cycles that produced no write.
	// reason: fix_timeout/fix_error/overlap/unbound
	CyclesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatr_sampling_cycles_skipped_total",
			Help: "Total number of sampling cycles skipped without a store write.",
		},
		[]string{"reason"},
	)

	FeedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatr_feed_events_total",
			Help: "Insert events handled by the live feed broker.",
		},
		[]string{"outcome"}, // outcome: delivered/dropped
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locatr_feed_reconnects_total",
			Help: "Number of times the store insert stream was reopened.",
		},
	)

	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locatr_resolutions_total",
			Help: "Device code resolutions by result category.",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locatr_http_request_duration_seconds",
			Help:    "Latency of HTTP API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	ActiveViewers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "locatr_active_viewers",
			Help: "Number of connected websocket viewers.",
		},
	)
)

func init() {
	prometheus.MustRegister(SamplesWritten)
	prometheus.MustRegister(CyclesSkipped)
	prometheus.MustRegister(FeedEvents)
	prometheus.MustRegister(FeedReconnects)
	prometheus.MustRegister(Resolutions)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ActiveViewers)
}
