// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_error"
	OutcomeMalformed = "malformed"
)

// Event dispositions.
const (
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventForeign   = "foreign"
	EventUnknown   = "unknown"
	EventStale     = "stale"
	EventGap       = "gap"
)

type Metrics struct {
	Requests         *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	Events           *prometheus.CounterVec
	Results          *prometheus.CounterVec
	ActiveRooms      prometheus.Gauge
	ConnectedDevices prometheus.Gauge
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Game requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Game request round trip latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Game events by type and what happened to them",
		}, []string{"type", "disposition"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Finished matches by result",
		}, []string{"result"}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of games held by the server",
		}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_devices",
			Help:      "Number of devices with an open event channel",
		}),
	}

	reg.MustRegister(
		m.Requests,
		m.RequestLatency,
		m.Events,
		m.Results,
		m.ActiveRooms,
		m.ConnectedDevices,
	)
	return m
}

// Monitor owns a private registry so several monitors can live in one process.
// A nil *Monitor is valid and records nothing.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the monitor was created",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	}))
	return m
}

func (m *Monitor) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) ObserveRequest(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.Requests.WithLabelValues(kind, outcome).Inc()
	m.metrics.RequestLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Monitor) ObserveEvent(eventType, disposition string) {
	if m == nil {
		return
	}
	m.metrics.Events.WithLabelValues(eventType, disposition).Inc()
}

func (m *Monitor) ObserveResult(result string) {
	if m == nil {
		return
	}
	m.metrics.Results.WithLabelValues(result).Inc()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncConnectedDevices() {
	if m == nil {
		return
	}
	m.metrics.ConnectedDevices.Inc()
}

func (m *Monitor) DecConnectedDevices() {
	if m == nil {
		return
	}
	m.metrics.ConnectedDevices.Dec()
}
