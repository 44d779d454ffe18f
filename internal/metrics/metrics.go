// Package metrics holds the Prometheus collectors for orchestration runs and
// hook decisions.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foreman"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	attempts     *prometheus.CounterVec
	units        *prometheus.CounterVec
	unitDuration *prometheus.HistogramVec
	agentCost    *prometheus.CounterVec
	hookDecision *prometheus.CounterVec
	unitsActive  prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return MustNewMetrics(reg, reg)
}

// MustNewMetrics registers the collectors with reg. A collector that is
// already registered is reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Worker attempts by workflow and outcome.",
		}, []string{"kind", "outcome"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "units_total",
			Help:      "Finished units by workflow and terminal status.",
		}, []string{"kind", "status"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "unit_duration_seconds",
			Help:      "Wall time from unit start to terminal status.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}, []string{"kind"}),
		agentCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cost_usd_total",
			Help:      "Cost reported by the agent, by workflow and role.",
		}, []string{"kind", "role"}),
		hookDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hook",
			Name:      "decisions_total",
			Help:      "Hook decisions by validator and decision.",
		}, []string{"validator", "decision"}),
		unitsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "units_active",
			Help:      "Units currently running.",
		}),
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.attempts = register(m.attempts).(*prometheus.CounterVec)
	m.units = register(m.units).(*prometheus.CounterVec)
	m.unitDuration = register(m.unitDuration).(*prometheus.HistogramVec)
	m.agentCost = register(m.agentCost).(*prometheus.CounterVec)
	m.hookDecision = register(m.hookDecision).(*prometheus.CounterVec)
	m.unitsActive = register(m.unitsActive).(prometheus.Gauge)
	return m
}

func (m *Metrics) ObserveAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.unitsActive.Inc()
}

func (m *Metrics) UnitFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.unitsActive.Dec()
	m.units.WithLabelValues(kind, status).Inc()
	m.unitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) AddCost(kind, role string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.agentCost.WithLabelValues(kind, role).Add(usd)
}

func (m *Metrics) ObserveHookDecision(validator, decision string) {
	if m == nil {
		return
	}
	m.hookDecision.WithLabelValues(validator, decision).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" || m.gatherer == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
