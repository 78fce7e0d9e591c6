package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamrt/metric"
)

type queueMetrics struct {
	pushes prometheus.Counter
	drops  prometheus.Counter
	depth  prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"queue": prefix}
	m := &queueMetrics{
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "streamrt",
			Subsystem:   "queue",
			Name:        "pushes_total",
			ConstLabels: labels,
			Help:        "Items accepted by the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "streamrt",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items discarded by the overflow policy",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "streamrt",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_pushes", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_depth", m.depth); err != nil {
		return nil, err
	}
	return m, nil
}
