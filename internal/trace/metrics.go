package trace

import (
	"github.com/prometheus/client_golang/prometheus"

	"tickrt/internal/sched"
)

// Metrics exposes Prometheus collectors fed from the status stream.
type Metrics struct {
	events   *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	tick     prometheus.Gauge
	prio     *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. Callers wanting isolated
// names, such as tests, pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickrt",
			Subsystem: "sched",
			Name:      "events_total",
			Help:      "Scheduler status events by kind.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickrt",
			Subsystem: "sched",
			Name:      "timeouts_total",
			Help:      "Waits that ended by timeout, by task and object.",
		}, []string{"task", "object"}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickrt",
			Subsystem: "sched",
			Name:      "tick",
			Help:      "Current value of the tick counter.",
		}),
		prio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tickrt",
			Subsystem: "sched",
			Name:      "effective_priority",
			Help:      "Effective priority of each task at its last event.",
		}, []string{"task"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.timeouts, m.tick, m.prio} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Handle(ev sched.StatusEvent) error {
	m.events.WithLabelValues(ev.Kind.String()).Inc()
	m.tick.Set(float64(ev.Tick))
	if ev.TaskID == 0 {
		return nil
	}
	m.prio.WithLabelValues(ev.Task).Set(float64(ev.Priority))
	if ev.Kind == sched.StatusTimeout {
		m.timeouts.WithLabelValues(ev.Task, ev.Object).Inc()
	}
	return nil
}
