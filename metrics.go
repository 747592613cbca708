package streamreplay

//
// Prometheus exporter: an ambient addition not named by spec.md itself
// (§6: "Metrics (ambient addition, not in spec.md)"). Grounded on
// runZeroInc-sockstats's TCPInfoCollector shape (pkg/exporter/exporter.go):
// a custom prometheus.Collector that snapshots a registry of streams on
// every scrape rather than pushing updates eagerly.
//

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamCollector is a prometheus.Collector exposing every registered
// stream's throughput, RTT and outage-rate statistics as gauges, each
// labeled by stream name.
type StreamCollector struct {
	mu      sync.Mutex
	streams map[string]StreamHandle

	throughput *prometheus.Desc
	rtt        *prometheus.Desc
	outageRate *prometheus.Desc
}

// NewStreamCollector constructs a collector over streams. The same map
// is shared with the IPC daemon and console reporter; StreamCollector
// only ever reads it.
func NewStreamCollector(streams map[string]StreamHandle) *StreamCollector {
	return &StreamCollector{
		streams: streams,
		throughput: prometheus.NewDesc(
			"streamreplay_throughput_mbps", "Last observed throttler rate in Mbps.",
			[]string{"stream"}, nil),
		rtt: prometheus.NewDesc(
			"streamreplay_rtt_seconds", "10-90 percentile trimmed mean round-trip time.",
			[]string{"stream"}, nil),
		outageRate: prometheus.NewDesc(
			"streamreplay_outage_rate", "Fraction of RTT samples exceeding target_rtt.",
			[]string{"stream"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.throughput
	ch <- c.rtt
	ch <- c.outageRate
}

// Collect implements prometheus.Collector: it snapshots every registered
// stream's Statistics() at scrape time rather than caching.
func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	streams := make(map[string]StreamHandle, len(c.streams))
	for k, v := range c.streams {
		streams[k] = v
	}
	c.mu.Unlock()

	for name, s := range streams {
		if !s.Active(time.Now()) {
			continue
		}
		stats := s.Statistics()
		ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, stats.Throughput, name)
		ch <- prometheus.MustNewConstMetric(c.rtt, prometheus.GaugeValue, stats.RTT, name)
		ch <- prometheus.MustNewConstMetric(c.outageRate, prometheus.GaugeValue, stats.OutageRate, name)
	}
}
