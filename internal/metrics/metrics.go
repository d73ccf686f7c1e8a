// Package metrics exposes queue metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the queue's Prometheus metrics. Each collector owns its
// registry so multiple queue instances can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	actionsCreated   prometheus.Counter
	actionsSynced    prometheus.Counter
	actionsFailed    prometheus.Counter
	actionsRetried   prometheus.Counter
	actionsDelivered prometheus.Counter
	syncCycles       prometheus.Counter

	depth *prometheus.GaugeVec

	processingLatency prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		actionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_actions_created_total",
			Help: "Total number of actions created",
		}),
		actionsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_actions_synced_total",
			Help: "Total number of actions processed successfully",
		}),
		actionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_actions_failed_total",
			Help: "Total number of actions that exhausted their retries",
		}),
		actionsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_actions_retried_total",
			Help: "Total number of retry attempts scheduled",
		}),
		actionsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_actions_delivered_total",
			Help: "Total number of actions delivered upstream and pruned",
		}),
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_sync_cycles_total",
			Help: "Total number of sync cycles run",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of actions per status",
		}, []string{"status"}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_processing_latency_seconds",
			Help:    "Processor execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.actionsCreated,
		c.actionsSynced,
		c.actionsFailed,
		c.actionsRetried,
		c.actionsDelivered,
		c.syncCycles,
		c.depth,
		c.processingLatency,
	)
	return c
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCreated() { c.actionsCreated.Inc() }

func (c *Collector) RecordSynced(latencySeconds float64) {
	c.actionsSynced.Inc()
	c.processingLatency.Observe(latencySeconds)
}

func (c *Collector) RecordFailed() { c.actionsFailed.Inc() }

func (c *Collector) RecordRetry() { c.actionsRetried.Inc() }

func (c *Collector) RecordDelivered(n int) { c.actionsDelivered.Add(float64(n)) }

func (c *Collector) RecordSyncCycle() { c.syncCycles.Inc() }

// SetDepth records the current number of actions in a status.
func (c *Collector) SetDepth(status string, n int) {
	c.depth.WithLabelValues(status).Set(float64(n))
}
