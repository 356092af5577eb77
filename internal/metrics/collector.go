package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/flowscope/internal/stats"
)

// StatsCollector exports the analyzer counters at scrape time.
type StatsCollector struct {
	stats *stats.Stats
	desc  *prometheus.Desc
}

// NewStatsCollector returns a collector reading s.
func NewStatsCollector(s *stats.Stats) *StatsCollector {
	return &StatsCollector{
		stats: s,
		desc: prometheus.NewDesc(
			"flowscope_analyzer_counter_total",
			"Analyzer statistics counters by name",
			[]string{"name"}, nil,
		),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	c.stats.Each(func(counter stats.Counter, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), counter.String())
	})
}
