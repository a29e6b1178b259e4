package stats

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Source returns the current snapshots keyed by resource or pipeline name.
type Source func() map[string]Snapshot

// Collector exposes statistics snapshots as Prometheus metrics. Values are
// read on every scrape, so the Statistics themselves stay Prometheus-free.
type Collector struct {
	source Source

	outcomes  *prometheus.Desc
	latency   *prometheus.Desc
	meanDesc  *prometheus.Desc
	windowLen *prometheus.Desc
}

// NewCollector creates a collector under namespace reading from source.
func NewCollector(namespace string, source Source) *Collector {
	return &Collector{
		source: source,
		outcomes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "stats", "operations_total"),
			"Operations recorded by the statistics engine, by outcome",
			[]string{"source", "outcome"}, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "stats", "latency_milliseconds"),
			"Operation latency histogram in milliseconds",
			[]string{"source"}, nil,
		),
		meanDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "stats", "latency_mean_milliseconds"),
			"Exponentially decayed mean operation latency in milliseconds",
			[]string{"source"}, nil,
		),
		windowLen: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "stats", "window_operations"),
			"Operations recorded since the last window was taken",
			[]string{"source"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.outcomes
	ch <- c.latency
	ch <- c.meanDesc
	ch <- c.windowLen
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	for name, snap := range c.source() {
		cnt := snap.Counters
		ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(cnt.Valid), name, "valid")
		ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(cnt.Error), name, "error")
		ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(cnt.Timeout), name, "timeout")
		ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(cnt.Dropped), name, "dropped")
		ch <- prometheus.MustNewConstMetric(c.windowLen, prometheus.GaugeValue, float64(cnt.Window), name)

		h := snap.Histogram
		ch <- prometheus.MustNewConstHistogram(c.latency, h.Samples, h.Sum, cumulativeBuckets(h), name)
		ch <- prometheus.MustNewConstMetric(c.meanDesc, prometheus.GaugeValue, h.Mean, name)
	}
}

// cumulativeBuckets converts bin hits into Prometheus cumulative buckets keyed
// by upper bound. The +Inf guard is implied by the sample count.
func cumulativeBuckets(h HistogramSnapshot) map[float64]uint64 {
	buckets := make(map[float64]uint64, len(h.Bins))
	var acc uint64
	for _, b := range h.Bins {
		acc += b.Hits
		if math.IsInf(b.Upper, 1) {
			continue
		}
		buckets[b.Upper] = acc
	}
	return buckets
}
