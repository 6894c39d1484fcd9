package scan

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "opsdeck", Name: "scan_queue_depth", Help: "Scans waiting for a worker slot"},
	)
	runningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "opsdeck", Name: "scans_running", Help: "Scans currently executing"},
	)
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "opsdeck", Name: "scans_total", Help: "Finished scans by tool and status"},
		[]string{"tool", "status"},
	)
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "opsdeck", Name: "scan_duration_seconds", Help: "Scanner subprocess runtime", Buckets: prometheus.ExponentialBuckets(1, 2, 12)},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(queueDepthGauge, runningGauge, scansTotal, scanDuration)
}

func setQueueDepth(n int) { queueDepthGauge.Set(float64(n)) }
func setRunning(n int)    { runningGauge.Set(float64(n)) }

func recordScan(tool, status string, dur time.Duration) {
	scansTotal.WithLabelValues(tool, status).Inc()
	scanDuration.WithLabelValues(tool).Observe(dur.Seconds())
}
