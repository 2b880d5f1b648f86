package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/wastedispatch/core/queue"
)

// QueueStatsSource exposes per-kind queue counters.
type QueueStatsSource interface {
	Stats() map[queue.Kind]queue.KindStats
}

// QueueCollector reports queue depth as Prometheus gauges, read on scrape.
type QueueCollector struct {
	src  QueueStatsSource
	desc *prometheus.Desc
}

// NewQueueCollector wraps src. Register the result on a registry.
func NewQueueCollector(src QueueStatsSource) *QueueCollector {
	return &QueueCollector{
		src: src,
		desc: prometheus.NewDesc("queue_jobs",
			"Jobs per kind and status", []string{"kind", "status"}, nil),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	for kind, s := range c.src.Stats() {
		k := string(kind)
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Waiting), k, "waiting")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Active), k, "active")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Completed), k, "completed")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(s.Failed), k, "failed")
	}
}
