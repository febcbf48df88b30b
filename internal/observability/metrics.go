package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of the engine. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Transmissions      *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	TriggerDecisions   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	InFlightRecoveries prometheus.Counter
}

// NewMetrics registers engine metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transmissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latent_transmissions_total",
		Help: "Transmissions generated and persisted, labeled by style.",
	}, []string{"style"}), "latent_transmissions_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latent_generation_failures_total",
		Help: "Failed generation cycles, labeled by the failing stage.",
	}, []string{"reason"}), "latent_generation_failures_total")
	if err != nil {
		return nil, err
	}

	decisions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latent_trigger_decisions_total",
		Help: "Trigger policy evaluations, labeled by result.",
	}, []string{"result"}), "latent_trigger_decisions_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "latent_generation_duration_seconds",
		Help:    "Duration of successful generation cycles in seconds.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}), "latent_generation_duration_seconds")
	if err != nil {
		return nil, err
	}

	recoveries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "latent_inflight_recoveries_total",
		Help: "Generations forced back to idle after exceeding the in-flight limit.",
	}), "latent_inflight_recoveries_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:           gatherer,
		Transmissions:      transmissions,
		GenerationFailures: failures,
		TriggerDecisions:   decisions,
		GenerationDuration: duration,
		InFlightRecoveries: recoveries,
	}, nil
}

// TransmissionGenerated records a persisted transmission
func (m *Metrics) TransmissionGenerated(style string, took time.Duration) {
	if m == nil {
		return
	}
	m.Transmissions.WithLabelValues(style).Inc()
	m.GenerationDuration.Observe(took.Seconds())
}

// GenerationFailed records a failed cycle
func (m *Metrics) GenerationFailed(reason string) {
	if m == nil {
		return
	}
	m.GenerationFailures.WithLabelValues(reason).Inc()
}

// TriggerDecision records one policy evaluation
func (m *Metrics) TriggerDecision(permitted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if permitted {
		result = "permitted"
	}
	m.TriggerDecisions.WithLabelValues(result).Inc()
}

// InFlightRecovered records a forced return to idle
func (m *Metrics) InFlightRecovered() {
	if m == nil {
		return
	}
	m.InFlightRecoveries.Inc()
}

// Handler exposes the gathered metrics over HTTP
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
