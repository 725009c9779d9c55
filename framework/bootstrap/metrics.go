package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Boot outcomes recorded by Metrics.Boots.
const (
	OutcomeHit      = "hit"
	OutcomeBuilt    = "built"
	OutcomeWaited   = "waited"
	OutcomeUnlocked = "unlocked"
	OutcomeFailed   = "failed"
)

// Metrics holds the Prometheus collectors of the cache manager.
type Metrics struct {
	Boots        *prometheus.CounterVec
	BuildSeconds prometheus.Histogram
	LockWait     prometheus.Histogram
	Services     prometheus.Gauge
}

// NewMetrics creates the collectors under namespace and registers them with
// reg when it is not nil.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Boots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "boots_total",
				Help:      "Container boots by outcome (hit, built, waited, unlocked, failed).",
			},
			[]string{"outcome"},
		),
		BuildSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "build_duration_seconds",
				Help:      "Time spent compiling and dumping the container.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for another process to publish the container.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Services: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "public_services",
				Help:      "Public services of the loaded container.",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.Boots, m.BuildSeconds, m.LockWait, m.Services} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) boot(outcome string) {
	if m != nil {
		m.Boots.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) built(seconds float64) {
	if m != nil {
		m.BuildSeconds.Observe(seconds)
	}
}

func (m *Metrics) waited(seconds float64) {
	if m != nil {
		m.LockWait.Observe(seconds)
	}
}

func (m *Metrics) services(n int) {
	if m != nil {
		m.Services.Set(float64(n))
	}
}
