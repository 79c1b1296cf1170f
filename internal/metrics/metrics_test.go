package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := NewMetrics()

	m.ObservePacket(60, 1, 1)
	m.ObservePacket(1514, 2, 1)
	m.ObserveReadError()
	m.ObserveReport(true, 0)
	m.ObserveReport(false, 3)
	m.ObserveTransition("start", 0, 0)
	m.ObserveTransition("pause", 2, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsCaptured))
	assert.Equal(t, 1574.0, testutil.ToFloat64(m.BytesAttributed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("start")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoredPackets))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LiveFlows))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration is rejected")

	m.ObservePacket(10, 1, 1)
	m.ObserveReport(true, 0)
	m.ObserveTransition("start", 1, 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"wirefish_packets_captured_total",
		"wirefish_flow_bytes_total",
		"wirefish_channel_read_errors_total",
		"wirefish_live_flows",
		"wirefish_stored_packets",
		"wirefish_reports_total",
		"wirefish_session_transitions_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePacket(1, 1, 1)
		m.ObserveReadError()
		m.ObserveReport(true, 0)
		m.ObserveTransition("stop", 0, 0)
	})
}
