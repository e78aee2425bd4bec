// Package metrics exposes coordinator state to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "huddle"

type Metrics struct {
	registry *prometheus.Registry

	rooms       prometheus.Gauge
	peers       prometheus.Gauge
	producers   prometheus.Gauge
	consumers   prometheus.Gauge
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_ongoing",
			Help: "Rooms currently ongoing.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers",
			Help: "Peers in ongoing rooms.",
		}),
		producers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "producers",
			Help: "Media producers tracked in ongoing rooms.",
		}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consumers",
			Help: "Media consumers tracked in ongoing rooms.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "signal_connections",
			Help: "Open signaling connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Broadcast events by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Frames dropped on full send buffers.",
		}),
	}
	m.registry.MustRegister(
		m.rooms, m.peers, m.producers, m.consumers, m.connections, m.events, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveState(rooms, peers, producers, consumers int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.peers.Set(float64(peers))
	m.producers.Set(float64(producers))
	m.consumers.Set(float64(consumers))
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
