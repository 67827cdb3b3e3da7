package chat

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics counts traffic for diagnostics and the /metrics endpoint.
type Metrics struct {
	registry   *prometheus.Registry
	sent       prometheus.Counter
	sendFailed prometheus.Counter
	received   prometheus.Counter
	duplicates prometheus.Counter
	discovery  prometheus.Counter
	online     prometheus.Gauge
}

func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "lanchat", Name: name, Help: help})
	}
	m := &Metrics{
		registry:   prometheus.NewRegistry(),
		sent:       counter("packets_sent_total", "Packets delivered to peers."),
		sendFailed: counter("packets_send_failed_total", "Packets that could not be delivered."),
		received:   counter("messages_received_total", "Chat messages accepted from peers."),
		duplicates: counter("messages_duplicate_total", "Inbound messages dropped as already seen."),
		discovery:  counter("discovery_events_total", "Discovery announcements and byes processed."),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lanchat", Name: "peers_online", Help: "Peers currently online.",
		}),
	}
	m.registry.MustRegister(m.sent, m.sendFailed, m.received, m.duplicates, m.discovery, m.online)
	return m
}

// Registry exposes the collectors for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) IncSendFailed() {
	if m != nil {
		m.sendFailed.Inc()
	}
}

func (m *Metrics) IncReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) IncDiscovery() {
	if m != nil {
		m.discovery.Inc()
	}
}

func (m *Metrics) SetOnline(n int) {
	if m != nil {
		m.online.Set(float64(n))
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Sent:       int(read(m.sent)),
		SendFailed: int(read(m.sendFailed)),
		Received:   int(read(m.received)),
		Duplicates: int(read(m.duplicates)),
		Online:     int(read(m.online)),
	}
}

func read(c prometheus.Metric) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

// MetricsSnapshot is printed in `/stats` command output.
type MetricsSnapshot struct {
	Sent       int
	SendFailed int
	Received   int
	Duplicates int
	Online     int
}

func (s MetricsSnapshot) String() string {
	return fmt.Sprintf("sent=%d failed=%d received=%d duplicates=%d online=%d", s.Sent, s.SendFailed, s.Received, s.Duplicates, s.Online)
}
