package zipstream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks engine activity for a process. It follows
// buildbarn/bb-storage's pattern of package-level prometheus collectors
// registered exactly once via sync.Once (see e.g.
// pkg/blobstore/mirrored_blob_access.go), rather than one collector set
// per Archive: an Archive lives for a single request, while these metrics
// are process-wide.
var (
	metricsOnce sync.Once

	requestsStreamed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zipstream",
			Subsystem: "engine",
			Name:      "requests_streamed_total",
			Help:      "Number of archive range requests completed, by outcome.",
		},
		[]string{"outcome"})

	bytesStreamed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zipstream",
			Subsystem: "engine",
			Name:      "bytes_streamed_total",
			Help:      "Total archive bytes written to clients, metadata and member data combined.",
		})

	blobFetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zipstream",
			Subsystem: "engine",
			Name:      "blob_fetch_retries_total",
			Help:      "Number of retry decisions on blob-store range reads: succeeded=\"true\" when another attempt was made, \"false\" when the read was given up.",
		},
		[]string{"succeeded"})

	planDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zipstream",
			Subsystem: "engine",
			Name:      "plan_build_seconds",
			Help:      "Time to build a Plan from a manifest.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})
)

// RegisterMetrics registers the engine's prometheus collectors with reg.
// Safe to call more than once; registration happens at most once per
// process.
func RegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(requestsStreamed, bytesStreamed, blobFetchRetries, planDuration)
	})
}
