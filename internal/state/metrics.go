package state

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the three counters spec.md §3 names: historic
// connections and total bytes relayed end-to-end through the copy
// engine (both monotonic), and currently open connections (which
// ConnectionClosed decrements). The plain uint64 fields
// back the management protocol's METRICS command; the Prometheus
// collectors mirror them for external scraping (SPEC_FULL.md §2).
type Metrics struct {
	historicConnections uint64
	currentConnections  uint64
	totalBytes          uint64

	promConnTotal prometheus.Counter
	promConnOpen  prometheus.Gauge
	promBytes     prometheus.Counter
}

// NewMetrics constructs Metrics and registers its collectors on reg.
// reg may be nil, in which case only the plain counters are kept (used
// by tests that do not care about Prometheus wiring).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promConnTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socks5gate_connections_total",
			Help: "Total SOCKS5 connections accepted since startup.",
		}),
		promConnOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socks5gate_connections_open",
			Help: "SOCKS5 connections currently open.",
		}),
		promBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socks5gate_bytes_transferred_total",
			Help: "Total bytes relayed end-to-end through the copy engine.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promConnTotal, m.promConnOpen, m.promBytes)
	}
	return m
}

// ConnectionOpened records a newly accepted SOCKS5 connection.
func (m *Metrics) ConnectionOpened() {
	atomic.AddUint64(&m.historicConnections, 1)
	atomic.AddUint64(&m.currentConnections, 1)
	m.promConnTotal.Inc()
	m.promConnOpen.Inc()
}

// ConnectionClosed records a SOCKS5 connection's teardown.
func (m *Metrics) ConnectionClosed() {
	atomic.AddUint64(&m.currentConnections, ^uint64(0))
	m.promConnOpen.Dec()
}

// BytesTransferred adds n to the total-bytes counter.
func (m *Metrics) BytesTransferred(n uint64) {
	atomic.AddUint64(&m.totalBytes, n)
	m.promBytes.Add(float64(n))
}

// Snapshot returns the three counters as read by the management
// protocol's METRICS command.
func (m *Metrics) Snapshot() (historic, current, bytes uint64) {
	return atomic.LoadUint64(&m.historicConnections),
		atomic.LoadUint64(&m.currentConnections),
		atomic.LoadUint64(&m.totalBytes)
}
