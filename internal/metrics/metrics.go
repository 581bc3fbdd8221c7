package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives the engine's observability events. Nothing in the
// engine depends on what a Recorder does with them.
type Recorder interface {
	UpdateAccepted()
	UpdateSkipped()
	UpdateCoalesced()
	Flushed(size int)
	Applied(kind string, changed bool)
	PollResult(resource, result string)
	CacheRead(resource, result string)
	PushEvent(result string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) UpdateAccepted() {}
func (Nop) UpdateSkipped() {}
func (Nop) UpdateCoalesced() {}
func (Nop) Flushed(int) {}
func (Nop) Applied(string, bool) {}
func (Nop) PollResult(string, string) {}
func (Nop) CacheRead(string, string) {}
func (Nop) PushEvent(string) {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	registry *prometheus.Registry

	updates    *prometheus.CounterVec
	flushes    prometheus.Counter
	flushSize  prometheus.Histogram
	applied    *prometheus.CounterVec
	polls      *prometheus.CounterVec
	cacheReads *prometheus.CounterVec
	pushEvents *prometheus.CounterVec
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	updates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Update records offered to the queue, by outcome",
		},
		[]string{"result"},
	)

	flushes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Number of queue flushes",
		},
	)

	flushSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_size",
			Help:      "Update records applied per flush",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	applied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applied_total",
			Help:      "Update records applied to the cache, by kind",
		},
		[]string{"kind", "changed"},
	)

	polls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Fallback fetches, by resource and outcome",
		},
		[]string{"resource", "result"},
	)

	cacheReads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_reads_total",
			Help:      "Reads of TTL cached resources, by outcome",
		},
		[]string{"resource", "result"},
	)

	pushEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push channel messages, by ingestion outcome",
		},
		[]string{"result"},
	)

	registry.MustRegister(updates, flushes, flushSize, applied, polls, cacheReads, pushEvents)

	return &Collector{
		registry:   registry,
		updates:    updates,
		flushes:    flushes,
		flushSize:  flushSize,
		applied:    applied,
		polls:      polls,
		cacheReads: cacheReads,
		pushEvents: pushEvents,
	}
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) UpdateAccepted() { c.updates.WithLabelValues("accepted").Inc() }
func (c *Collector) UpdateSkipped() { c.updates.WithLabelValues("skipped").Inc() }
func (c *Collector) UpdateCoalesced() { c.updates.WithLabelValues("coalesced").Inc() }

func (c *Collector) Flushed(size int) {
	c.flushes.Inc()
	c.flushSize.Observe(float64(size))
}

func (c *Collector) Applied(kind string, changed bool) {
	c.applied.WithLabelValues(kind, strconv.FormatBool(changed)).Inc()
}

func (c *Collector) PollResult(resource, result string) {
	c.polls.WithLabelValues(resource, result).Inc()
}

func (c *Collector) CacheRead(resource, result string) {
	c.cacheReads.WithLabelValues(resource, result).Inc()
}

func (c *Collector) PushEvent(result string) {
	c.pushEvents.WithLabelValues(result).Inc()
}
