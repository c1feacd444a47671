package metrics

import "github.com/prometheus/client_golang/prometheus"

// WireMetrics holds the counters and gauges for the realtime wire client.
type WireMetrics struct {
	FramesReceived  *prometheus.CounterVec
	FramesPublished *prometheus.CounterVec
	DecodeWarnings  prometheus.Counter
	EventsEmitted   *prometheus.CounterVec
	Reconnects      prometheus.Counter
	TasksPublished  *prometheus.CounterVec
	CallsInFlight   prometheus.Gauge
	CallDuration    prometheus.Histogram
}

// NewWireMetrics creates wire client metrics and registers them with the collector.
func NewWireMetrics(collector *Collector) *WireMetrics {
	namespace := collector.namespace

	wm := &WireMetrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames received, by topic",
		}, []string{"topic"}),

		FramesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Outbound frames published, by topic",
		}, []string{"topic"}),

		DecodeWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_warnings_total",
			Help:      "Delta frames with unrecognized discriminants",
		}),

		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Typed events emitted to subscribers, by kind",
		}, []string{"kind"}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transport reconnects, proactive and failure-driven",
		}),

		TasksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_published_total",
			Help:      "Mutation tasks published, by label",
		}, []string{"label"}),

		CallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Correlated calls currently awaiting a response",
		}),

		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Latency of correlated request/response calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collector.MustRegister(
		wm.FramesReceived,
		wm.FramesPublished,
		wm.DecodeWarnings,
		wm.EventsEmitted,
		wm.Reconnects,
		wm.TasksPublished,
		wm.CallsInFlight,
		wm.CallDuration,
	)

	return wm
}
