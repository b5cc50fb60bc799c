package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "visualmesh"

// Metrics holds the Prometheus collectors for a batching run. A nil *Metrics
// is valid and records nothing, so callers can run without a registry.
type Metrics struct {
	RecordsRead      prometheus.Counter
	RecordsMalformed prometheus.Counter
	ExamplesEmitted  prometheus.Counter
	ExamplesEmpty    prometheus.Counter
	Batches          prometheus.Counter
	BatchNodes       prometheus.Histogram
	StreamDropped    prometheus.Counter
	StreamClients    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registry disables metrics and returns nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Raw records read from the input source",
		}),
		RecordsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Records skipped because they could not be decoded or parsed",
		}),
		ExamplesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_emitted_total",
			Help:      "Merged examples handed to the batcher",
		}),
		ExamplesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_empty_total",
			Help:      "Merged examples dropped because they have no nodes",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Reduced batches delivered to the sink",
		}),
		BatchNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_nodes",
			Help:      "Real (non-sentinel) node count per batch",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 12),
		}),
		StreamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_batches_total",
			Help:      "Batches that reached no stream subscriber or found the publisher queue full",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected stream subscribers",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.RecordsRead, m.RecordsMalformed, m.ExamplesEmitted, m.ExamplesEmpty,
		m.Batches, m.BatchNodes, m.StreamDropped, m.StreamClients,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRead counts one raw record.
func (m *Metrics) RecordRead() {
	if m != nil {
		m.RecordsRead.Inc()
	}
}

// RecordMalformed counts one skipped record.
func (m *Metrics) RecordMalformed() {
	if m != nil {
		m.RecordsMalformed.Inc()
	}
}

// ExampleEmitted counts one example handed to the batcher.
func (m *Metrics) ExampleEmitted() {
	if m != nil {
		m.ExamplesEmitted.Inc()
	}
}

// ExampleEmpty counts one dropped empty example.
func (m *Metrics) ExampleEmpty() {
	if m != nil {
		m.ExamplesEmpty.Inc()
	}
}

// BatchDelivered counts one batch and observes its node count.
func (m *Metrics) BatchDelivered(nodes int) {
	if m != nil {
		m.Batches.Inc()
		m.BatchNodes.Observe(float64(nodes))
	}
}

// StreamDrop counts one batch that was not handed to any subscriber.
func (m *Metrics) StreamDrop() {
	if m != nil {
		m.StreamDropped.Inc()
	}
}

// StreamClientDelta adjusts the connected subscriber gauge.
func (m *Metrics) StreamClientDelta(d int) {
	if m != nil {
		m.StreamClients.Add(float64(d))
	}
}
