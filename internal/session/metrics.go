package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the capacity-monitoring instruments of one session server
// process, registered on their own registry so tests can build as many
// hubs as they like.
type Metrics struct {
	reg *prometheus.Registry

	Connections     prometheus.Gauge
	LimitRejections prometheus.Counter
	FullRejections  prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quizroom_connections",
			Help: "Currently open websocket connections.",
		}),
		LimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "quizroom_connection_limit_rejections_total",
			Help: "Connections dropped because the per-process limit was reached.",
		}),
		FullRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "quizroom_room_full_rejections_total",
			Help: "Joins refused because the room was at capacity.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
