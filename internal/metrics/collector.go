// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"FlowSpectra/internal/engine/manager"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by *manager.Engine.
type StatsSource interface {
	Stats() manager.Stats
}

// Collector reads engine stats at scrape time.
type Collector struct {
	source StatsSource

	received        *prometheus.Desc
	unknownProtocol *prometheus.Desc
	malformed       *prometheus.Desc
	outOfOrder      *prometheus.Desc
	liveFlows       *prometheus.Desc
	flowsCreated    *prometheus.Desc
	flowsClosed     *prometheus.Desc
	queueDepth      *prometheus.Desc
	queueCapacity   *prometheus.Desc
	dropped         *prometheus.Desc
	emitted         *prometheus.Desc
	partial         *prometheus.Desc
	batches         *prometheus.Desc
	sinkErrors      *prometheus.Desc
	running         *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("flowspectra_"+name, help, labels, nil)
	}
	return &Collector{
		source:          source,
		received:        desc("packets_received_total", "Packets handed to the engine"),
		unknownProtocol: desc("packets_unknown_protocol_total", "Packets that were neither TCP nor UDP"),
		malformed:       desc("packets_malformed_total", "Packets rejected as malformed"),
		outOfOrder:      desc("packets_out_of_order_total", "Packets older than their flow's last packet"),
		liveFlows:       desc("flows_live", "Flows currently held in the flow table"),
		flowsCreated:    desc("flows_created_total", "Flow instances created"),
		flowsClosed:     desc("flows_closed_total", "Flows closed, by cause", "cause"),
		queueDepth:      desc("emit_queue_depth", "Closed flows waiting for emission"),
		queueCapacity:   desc("emit_queue_capacity", "Capacity of the emission queue"),
		dropped:         desc("emit_dropped_total", "Closed flows dropped because the emission queue was full"),
		emitted:         desc("vectors_emitted_total", "Feature vectors computed"),
		partial:         desc("vectors_partial_total", "Feature vectors of flows cut short by eviction or shutdown"),
		batches:         desc("sink_batches_total", "Batches written to sinks"),
		sinkErrors:      desc("sink_errors_total", "Failed sink writes", "sink"),
		running:         desc("engine_running", "1 while the engine is running"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.received, c.unknownProtocol, c.malformed, c.outOfOrder, c.liveFlows,
		c.flowsCreated, c.flowsClosed, c.queueDepth, c.queueCapacity, c.dropped,
		c.emitted, c.partial, c.batches, c.sinkErrors, c.running,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.received, st.Received)
	counter(c.unknownProtocol, st.UnknownProtocol)
	counter(c.malformed, st.Table.Malformed)
	counter(c.outOfOrder, st.Table.OutOfOrder)
	gauge(c.liveFlows, float64(st.Table.Live))
	counter(c.flowsCreated, st.Table.Created)
	counter(c.flowsClosed, st.Expired, "expired")
	counter(c.flowsClosed, st.Table.Stale, "stale")
	counter(c.flowsClosed, st.Table.Teardowns, "teardown")
	counter(c.flowsClosed, st.Table.Evicted, "evicted")
	gauge(c.queueDepth, float64(st.Emitter.Queued))
	gauge(c.queueCapacity, float64(st.Emitter.Capacity))
	counter(c.dropped, st.Emitter.Dropped)
	counter(c.emitted, st.Emitter.Emitted)
	counter(c.partial, st.Emitter.Partial)
	counter(c.batches, st.Emitter.Batches)
	for name, n := range st.Emitter.SinkErrors {
		counter(c.sinkErrors, n, name)
	}
	running := 0.0
	if st.Running {
		running = 1
	}
	gauge(c.running, running)
}
