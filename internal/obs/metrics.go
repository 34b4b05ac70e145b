package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivePairs            = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_active_pairs", Help: "Connection pairs currently relaying"})
	PairsTotal             = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_pairs_total", Help: "Connection pairs established"})
	RejectedTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_rejected_total", Help: "Client connections refused before upgrade"}, []string{"reason"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_errors_total", Help: "Errors by type"}, []string{"type"})
	FramesForwarded        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_frames_forwarded_total", Help: "Frames forwarded by direction and kind"}, []string{"direction", "kind"})
	BytesForwarded         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_bytes_forwarded_total", Help: "Payload bytes forwarded by direction"}, []string{"direction"})
	ControlDropped         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_control_dropped_total", Help: "Control frames not forwarded"}, []string{"direction"})
	PairDurationSeconds    = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_pair_duration_seconds", Help: "Connection pair lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 18)})
	UpstreamConnectSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_upstream_connect_seconds", Help: "Upstream handshake latency", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)})
)
