// Package metrics provides the replicator-side instrumentation the
// original keeps as three bvar globals (g_send_entries_latency,
// g_normalized_send_entries_latency, g_send_entries_batch_counter), plus a
// per-peer consecutive-error-times gauge used by status reporting.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReplicatorMetrics groups the counters/histograms one Replicator reports
// into. A nil *ReplicatorMetrics is safe to call methods on (all become
// no-ops), so tests and callers that don't care about metrics can skip
// wiring a registry.
type ReplicatorMetrics struct {
	sendEntriesLatency           prometheus.Observer
	normalizedSendEntriesLatency prometheus.Observer
	sendEntriesBatchSize         prometheus.Counter
	consecutiveErrorTimes        prometheus.Gauge
}

var (
	sendEntriesLatencyVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "raft",
		Subsystem: "replicator",
		Name:      "send_entries_latency_seconds",
		Help:      "Latency of append-entries RPC round trips, per peer.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"group", "peer"})

	normalizedSendEntriesLatencyVec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "raft",
		Subsystem: "replicator",
		Name:      "send_entries_latency_per_entry_seconds",
		Help:      "Append-entries RPC latency normalized by batch size, per peer.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"group", "peer"})

	sendEntriesBatchSizeVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft",
		Subsystem: "replicator",
		Name:      "send_entries_batch_entries_total",
		Help:      "Total log entries packed into append-entries RPCs, per peer.",
	}, []string{"group", "peer"})

	consecutiveErrorTimesVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "raft",
		Subsystem: "replicator",
		Name:      "consecutive_error_times",
		Help:      "Consecutive append-entries RPC failures observed for a peer.",
	}, []string{"group", "peer"})
)

func init() {
	prometheus.MustRegister(sendEntriesLatencyVec, normalizedSendEntriesLatencyVec, sendEntriesBatchSizeVec, consecutiveErrorTimesVec)
}

// NewReplicatorMetrics returns the metric set scoped to one (group, peer)
// pair.
func NewReplicatorMetrics(group, peer string) *ReplicatorMetrics {
	return &ReplicatorMetrics{
		sendEntriesLatency:           sendEntriesLatencyVec.WithLabelValues(group, peer),
		normalizedSendEntriesLatency: normalizedSendEntriesLatencyVec.WithLabelValues(group, peer),
		sendEntriesBatchSize:         sendEntriesBatchSizeVec.WithLabelValues(group, peer),
		consecutiveErrorTimes:        consecutiveErrorTimesVec.WithLabelValues(group, peer),
	}
}

// ObserveLatency records one append-entries RPC's round-trip latency and
// its per-entry normalized latency.
func (m *ReplicatorMetrics) ObserveLatency(seconds float64, entryCount int) {
	if m == nil {
		return
	}
	m.sendEntriesLatency.Observe(seconds)
	if entryCount > 0 {
		m.normalizedSendEntriesLatency.Observe(seconds / float64(entryCount))
	}
}

// ObserveBatch records that a batch of n entries was sent.
func (m *ReplicatorMetrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.sendEntriesBatchSize.Add(float64(n))
}

// SetConsecutiveErrorTimes updates the gauge used by status reporting.
func (m *ReplicatorMetrics) SetConsecutiveErrorTimes(n int) {
	if m == nil {
		return
	}
	m.consecutiveErrorTimes.Set(float64(n))
}
