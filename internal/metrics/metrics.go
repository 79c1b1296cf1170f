// Package metrics exposes capture and report activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all capture Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	PacketsCaptured prometheus.Counter
	BytesAttributed prometheus.Counter
	ReadErrors      prometheus.Counter
	LiveFlows       prometheus.Gauge
	StoredPackets   prometheus.Gauge

	Reports  *prometheus.CounterVec
	Sessions *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirefish_packets_captured_total",
			Help: "Total number of frames read and decoded",
		}),
		BytesAttributed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirefish_flow_bytes_total",
			Help: "Total number of bytes attributed to flows",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirefish_channel_read_errors_total",
			Help: "Total number of capture tasks terminated by a read failure",
		}),
		LiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirefish_live_flows",
			Help: "Number of flows accumulated since the last report",
		}),
		StoredPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirefish_stored_packets",
			Help: "Number of packets held by the packet store",
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirefish_reports_total",
			Help: "Total number of report generations",
		}, []string{"result"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirefish_session_transitions_total",
			Help: "Total number of session lifecycle transitions",
		}, []string{"transition"}),
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PacketsCaptured.Describe(ch)
	m.BytesAttributed.Describe(ch)
	m.ReadErrors.Describe(ch)
	m.LiveFlows.Describe(ch)
	m.StoredPackets.Describe(ch)
	m.Reports.Describe(ch)
	m.Sessions.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PacketsCaptured.Collect(ch)
	m.BytesAttributed.Collect(ch)
	m.ReadErrors.Collect(ch)
	m.LiveFlows.Collect(ch)
	m.StoredPackets.Collect(ch)
	m.Reports.Collect(ch)
	m.Sessions.Collect(ch)
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}

// ObservePacket records one stored packet and its flow contribution.
func (m *Metrics) ObservePacket(bytes uint64, stored, flows int) {
	if m == nil {
		return
	}
	m.PacketsCaptured.Inc()
	m.BytesAttributed.Add(float64(bytes))
	m.StoredPackets.Set(float64(stored))
	m.LiveFlows.Set(float64(flows))
}

// ObserveReadError records a capture task lost to a read failure.
func (m *Metrics) ObserveReadError() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

// ObserveReport records a report generation and the flows left afterwards.
func (m *Metrics) ObserveReport(ok bool, flows int) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Reports.WithLabelValues(result).Inc()
	m.LiveFlows.Set(float64(flows))
}

// ObserveTransition records a session lifecycle transition.
func (m *Metrics) ObserveTransition(transition string, stored, flows int) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(transition).Inc()
	m.StoredPackets.Set(float64(stored))
	m.LiveFlows.Set(float64(flows))
}
