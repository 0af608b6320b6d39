package monitor

import (
	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "routeradar"

// Metrics holds the engine's Prometheus collectors. Each instance owns its
// registry so tests and multiple engines never collide.
type Metrics struct {
	Registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	deviceOutcomes  *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	connectAttempts *prometheus.CounterVec
	sweepDeleted    prometheus.Counter
	aiFallbacks     prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles by result",
		}, []string{"result"}),
		deviceOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_polls_total",
			Help:      "Per-device units of work by result",
		}, []string{"result"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Persisted alerts by severity",
		}, []string{"severity"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of monitoring cycles",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Device dial attempts by outcome",
		}, []string{"outcome"}),
		sweepDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_alerts_total",
			Help:      "Alerts removed by retention sweeps",
		}),
		aiFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_fallbacks_total",
			Help:      "AI classifications that fell back to the default analysis",
		}),
	}
}

// ObserveConnectAttempt is a device.Options.AttemptHook.
func (m *Metrics) ObserveConnectAttempt(outcome string) {
	m.connectAttempts.WithLabelValues(outcome).Inc()
}

// ObserveAIFallback is the classifier fallback hook.
func (m *Metrics) ObserveAIFallback(error) {
	m.aiFallbacks.Inc()
}

// ObserveAlerts is an alerts.Options.OnCommit hook.
func (m *Metrics) ObserveAlerts(_ *models.Device, alerts []models.Alert) {
	for i := range alerts {
		m.alerts.WithLabelValues(string(alerts[i].State)).Inc()
	}
}

func (m *Metrics) observeDevice(ok bool) {
	if ok {
		m.deviceOutcomes.WithLabelValues("ok").Inc()
		return
	}

	m.deviceOutcomes.WithLabelValues("failed").Inc()
}

func (m *Metrics) observeCycle(result string, r *models.CycleResult) {
	m.cycles.WithLabelValues(result).Inc()

	if r != nil {
		m.cycleDuration.Observe(r.Duration.Seconds())
	}
}

func (m *Metrics) observeSweep(deleted int) {
	m.sweepDeleted.Add(float64(deleted))
}
