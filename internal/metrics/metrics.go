// Package metrics exposes command and broadcast counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KongGithubDev/LightLink/internal/core"
)

// Metrics implements core.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	commands  *prometheus.CounterVec
	events    *prometheus.CounterVec
	delivered *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightlink_commands_total",
			Help: "Commands handled, by action and result code.",
		}, []string{"action", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightlink_broadcasts_total",
			Help: "Events published to subscribers, by type.",
		}, []string{"type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightlink_broadcast_deliveries_total",
			Help: "Successful per-subscriber deliveries, by event type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.commands, m.events, m.delivered)
	return m
}

// Watch registers gauges that read live values from hub and queue.
func (m *Metrics) Watch(hub *core.Hub, queue *core.Queue) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightlink_subscribers",
			Help: "Current broadcast subscribers.",
		}, func() float64 { return float64(hub.Events().Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightlink_controllers",
			Help: "Controllers holding a push link.",
		}, func() float64 { return float64(hub.Controllers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lightlink_queue_depth",
			Help: "Commands waiting for a polling controller.",
		}, func() float64 { return float64(queue.Len()) }),
	)
}

func (m *Metrics) ObserveCommand(action core.Action, code core.Code) {
	m.commands.WithLabelValues(string(action), string(code)).Inc()
}

func (m *Metrics) ObserveEvent(eventType string, delivered int) {
	m.events.WithLabelValues(eventType).Inc()
	m.delivered.WithLabelValues(eventType).Add(float64(delivered))
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
