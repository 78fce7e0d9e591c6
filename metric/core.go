package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamrt"

// Metrics contains the engine-level metrics shared by every scheduler,
// buffer and message port of a runtime.
type Metrics struct {
	// Block execution
	WorkCalls     *prometheus.CounterVec
	WorkDuration  *prometheus.HistogramVec
	ItemsProduced *prometheus.CounterVec
	ItemsConsumed *prometheus.CounterVec

	// Scheduler state (0=idle, 1=working, 2=done, 3=flushed, 4=exit)
	SchedulerState *prometheus.GaugeVec
	BlockErrors    *prometheus.CounterVec

	// Buffers
	BufferOccupancy *prometheus.GaugeVec

	// Messages
	MessagesPosted    *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		WorkCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "block",
				Name:      "work_calls_total",
				Help:      "Number of work invocations by resulting iteration status",
			},
			[]string{"block", "status"},
		),
		WorkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "block",
				Name:      "work_duration_seconds",
				Help:      "Duration of a single work invocation",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
			[]string{"block"},
		),
		ItemsProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "block",
				Name:      "items_produced_total",
				Help:      "Stream items produced across all output ports",
			},
			[]string{"block"},
		),
		ItemsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "block",
				Name:      "items_consumed_total",
				Help:      "Stream items consumed across all input ports",
			},
			[]string{"block"},
		),
		SchedulerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "state",
				Help:      "Scheduler state (0=idle, 1=working, 2=done, 3=flushed, 4=exit)",
			},
			[]string{"scheduler"},
		),
		BlockErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "block_errors_total",
				Help:      "Block failures by kind",
			},
			[]string{"scheduler", "kind"},
		),
		BufferOccupancy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "buffer",
				Name:      "occupancy_ratio",
				Help:      "Fraction of buffer capacity holding unread items for the slowest reader",
			},
			[]string{"edge"},
		),
		MessagesPosted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "posted_total",
				Help:      "Messages enqueued on input message ports",
			},
			[]string{"block", "port"},
		),
		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "delivered_total",
				Help:      "Messages handed to message handlers",
			},
			[]string{"block", "port"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Messages dropped because a port queue was full",
			},
			[]string{"block", "port"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WorkCalls,
		m.WorkDuration,
		m.ItemsProduced,
		m.ItemsConsumed,
		m.SchedulerState,
		m.BlockErrors,
		m.BufferOccupancy,
		m.MessagesPosted,
		m.MessagesDelivered,
		m.MessagesDropped,
	}
}

// RecordWork records one work invocation. Safe on a nil receiver.
func (m *Metrics) RecordWork(block, status string, produced, consumed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkCalls.WithLabelValues(block, status).Inc()
	m.WorkDuration.WithLabelValues(block).Observe(duration.Seconds())
	if produced > 0 {
		m.ItemsProduced.WithLabelValues(block).Add(float64(produced))
	}
	if consumed > 0 {
		m.ItemsConsumed.WithLabelValues(block).Add(float64(consumed))
	}
}

// RecordSchedulerState updates the scheduler state gauge
func (m *Metrics) RecordSchedulerState(scheduler string, state int) {
	if m == nil {
		return
	}
	m.SchedulerState.WithLabelValues(scheduler).Set(float64(state))
}

// RecordBlockError increments the block error counter
func (m *Metrics) RecordBlockError(scheduler, kind string) {
	if m == nil {
		return
	}
	m.BlockErrors.WithLabelValues(scheduler, kind).Inc()
}

// RecordOccupancy sets the occupancy ratio of an edge buffer
func (m *Metrics) RecordOccupancy(edge string, ratio float64) {
	if m == nil {
		return
	}
	m.BufferOccupancy.WithLabelValues(edge).Set(ratio)
}

// RecordMessagePosted increments the posted counter
func (m *Metrics) RecordMessagePosted(block, port string) {
	if m == nil {
		return
	}
	m.MessagesPosted.WithLabelValues(block, port).Inc()
}

// RecordMessageDelivered increments the delivered counter
func (m *Metrics) RecordMessageDelivered(block, port string) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(block, port).Inc()
}

// RecordMessageDropped increments the dropped counter
func (m *Metrics) RecordMessageDropped(block, port string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(block, port).Inc()
}
