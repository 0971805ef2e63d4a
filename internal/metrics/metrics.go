package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Proxy Metrics
	ManifestRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_manifest_requests_total",
			Help: "Total number of manifest requests by playback kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SegmentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_segment_requests_total",
			Help: "Total number of segment proxy requests by outcome",
		},
		[]string{"outcome"},
	)

	SegmentBytesProxied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamgate_segment_bytes_proxied_total",
			Help: "Total segment bytes streamed to clients",
		},
	)

	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamgate_upstream_fetch_duration_seconds",
			Help:    "Upstream fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	// Health checker metrics
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamgate_probes_total",
			Help: "Total number of health probes by resulting classification",
		},
		[]string{"status"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamgate_sweep_duration_seconds",
			Help:    "Duration of a full health-check sweep in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
	)

	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamgate_sweeps_total",
			Help: "Total number of completed health-check sweeps",
		},
	)

	StreamsKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamgate_streams_known",
			Help: "Number of streams in the catalog at the last sweep",
		},
	)

	StreamsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamgate_streams_by_status",
			Help: "Streams per health classification at the last sweep",
		},
		[]string{"status"},
	)
)
