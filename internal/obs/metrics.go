package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vaultline"

// Metrics groups the compliance counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	denials       *prometheus.CounterVec
	decryptErrors *prometheus.CounterVec
	erasures      *prometheus.CounterVec
	buildInfo     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "operations_total",
			Help:      "Compliance operations by outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "operation_duration_seconds",
			Help:      "Compliance operation latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "permission_denials_total",
			Help:      "Operations rejected by the permission gate.",
		}, []string{"action"}),
		decryptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "decrypt_failures_total",
			Help:      "Fields returned undecrypted because decryption failed.",
		}, []string{"field"}),
		erasures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "erasures_total",
			Help:      "Complete account erasures by outcome.",
		}, []string{"outcome"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version", "commit"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.operations, m.duration, m.denials, m.decryptErrors, m.erasures, m.buildInfo} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveOperation counts one finished operation and its latency.
func (m *Metrics) ObserveOperation(op string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PermissionDenied(action string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(action).Inc()
}

func (m *Metrics) DecryptFailed(field string) {
	if m == nil {
		return
	}
	m.decryptErrors.WithLabelValues(field).Inc()
}

func (m *Metrics) Erasure(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "partial_failure"
	}
	m.erasures.WithLabelValues(outcome).Inc()
}

// SetBuildInfo sets build_info{version,commit} to 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}
