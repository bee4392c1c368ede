// Package obs carries the teacher's promauto/otel idioms (metrics/metrics.go,
// telemetry/*.go), rescoped from RPC-method labels to the CAS engine's own
// operations: archive packing, index lookups, BLTE decoding.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ArchivesSealed = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tact_archives_sealed_total",
		Help: "Number of archive blobs sealed by the packing engine",
	},
)

var BytesPacked = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tact_bytes_packed_total",
		Help: "Total bytes of CAS records packed into archive blobs",
	},
)

var IndexLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tact_index_lookups_total",
		Help: "Index lookups by result",
	},
	[]string{"result"}, // "hit" | "miss" | "error"
)

var BlteDecodeErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tact_blte_decode_errors_total",
		Help: "BLTE frames that failed to decode (bad checksum, unknown mode, missing key)",
	},
)

var IndexLookupLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tact_index_lookup_latency_seconds",
		Help:    "Latency of a single EKey index lookup",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
)
