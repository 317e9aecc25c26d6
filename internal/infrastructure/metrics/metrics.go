package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session holds the relay's room-session instruments. Each instance owns its
// own registry so tests can build several without duplicate registration.
type Session struct {
	registry *prometheus.Registry

	Rooms          prometheus.Gauge
	Members        prometheus.Gauge
	Messages       prometheus.Counter
	Rejected       *prometheus.CounterVec
	MalformedFrame prometheus.Counter
}

func NewSession() *Session {
	reg := prometheus.NewRegistry()

	s := &Session{
		registry: reg,
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nearchat",
			Subsystem: "session",
			Name:      "rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nearchat",
			Subsystem: "session",
			Name:      "members",
			Help:      "Number of joined connections across all rooms.",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nearchat",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Messages stamped and fanned out by the relay.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Client actions rejected by the relay, by reason.",
		}, []string{"reason"}),
		MalformedFrame: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nearchat",
			Subsystem: "relay",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
	}

	reg.MustRegister(
		s.Rooms,
		s.Members,
		s.Messages,
		s.Rejected,
		s.MalformedFrame,
		collectors.NewGoCollector(),
	)

	return s
}

func (s *Session) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
