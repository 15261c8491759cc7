// Package metrics exports the counters of the concurrent structures to
// Prometheus.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Source returns a structure's counters keyed by event name.
type Source func() map[string]uint64

// Collector is a prometheus.Collector that reads its sources on every scrape.
type Collector struct {
	events *prometheus.Desc

	mu      sync.Mutex
	sources map[string]Source
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(namespace string) *Collector {
	return &Collector{
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Events observed by a concurrent structure.",
			[]string{"structure", "event"},
			nil,
		),
		sources: make(map[string]Source),
	}
}

// Add registers src under structure, replacing a source with the same name.
func (c *Collector) Add(structure string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[structure] = src
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sources := make([]Source, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		sources = append(sources, c.sources[name])
	}
	c.mu.Unlock()

	for i, src := range sources {
		for event, v := range src() {
			ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), names[i], event)
		}
	}
}
