package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Crank outcomes recorded by RecordCrank.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeHalted    = "halted"
)

// Metrics contains the unit-level metrics shared by every vat data manager
// in a process.
type Metrics struct {
	CranksTotal   *prometheus.CounterVec
	CrankDuration *prometheus.HistogramVec
	UnitHalted    *prometheus.GaugeVec
	ErrorsTotal   *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the unit-level metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CranksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vatdata",
				Subsystem: "crank",
				Name:      "total",
				Help:      "Total number of cranks by outcome",
			},
			[]string{"unit", "outcome"},
		),

		CrankDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "vatdata",
				Subsystem: "crank",
				Name:      "duration_seconds",
				Help:      "Crank duration in seconds, including flush and commit",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"unit"},
		),

		UnitHalted: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "vatdata",
				Subsystem: "unit",
				Name:      "halted",
				Help:      "Unit halt status (0=running, 1=halted)",
			},
			[]string{"unit"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vatdata",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"unit", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "vatdata",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "vatdata",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.CranksTotal,
		c.CrankDuration,
		c.UnitHalted,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSReconnects,
	)
}

// RecordCrank records one finished crank.
func (c *Metrics) RecordCrank(unit, outcome string, duration time.Duration) {
	c.CranksTotal.WithLabelValues(unit, outcome).Inc()
	c.CrankDuration.WithLabelValues(unit).Observe(duration.Seconds())
}

// RecordHalted sets the halt gauge for a unit.
func (c *Metrics) RecordHalted(unit string, halted bool) {
	value := 0.0
	if halted {
		value = 1.0
	}
	c.UnitHalted.WithLabelValues(unit).Set(value)
}

// RecordError counts an error of the given class.
func (c *Metrics) RecordError(unit, class string) {
	c.ErrorsTotal.WithLabelValues(unit, class).Inc()
}

// RecordNATSStatus records NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the NATS reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
