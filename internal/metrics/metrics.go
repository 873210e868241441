package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: куда и по какому правилу ушел запрос
	RoutedTotal *prometheus.CounterVec

	// Latency: время работы агента (включая модель и инструменты)
	DispatchDuration *prometheus.HistogramVec

	// Errors: ответы, подмененные fallback-текстом, по типу отказа
	FallbackTotal *prometheus.CounterVec

	// Identity: почему токен не прошел и сколько раз авторизация ушла в fail-open
	IdentityRejectedTotal *prometheus.CounterVec
	AuthzDegradedTotal    prometheus.Counter

	// Fingerprints: захваченные отпечатки по уровню угрозы и сбои векторного шага
	FingerprintsTotal   *prometheus.CounterVec
	VectorFailuresTotal *prometheus.CounterVec

	// Tools: вызовы возможностей агентами (allowed / denied / failed)
	ToolCallsTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило, 0.5 - half-open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RoutedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_routed_total",
			Help: "Total number of routed requests.",
		}, []string{"destination", "event"}),

		DispatchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "honeyagent_dispatch_duration_seconds",
			Help:    "Histogram of agent dispatch latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"agent", "outcome"}),

		FallbackTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_fallback_total",
			Help: "Total number of responses replaced with the agent fallback.",
		}, []string{"agent", "reason"}),

		IdentityRejectedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_identity_rejected_total",
			Help: "Credentials resolved to an invalid identity, by reason.",
		}, []string{"reason"}),

		AuthzDegradedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "honeyagent_authz_degraded_total",
			Help: "Authorization checks that failed open because the policy service was unreachable.",
		}),

		FingerprintsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_fingerprints_total",
			Help: "Fingerprints durably recorded, by threat level.",
		}, []string{"threat_level"}),

		VectorFailuresTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_vector_failures_total",
			Help: "Best-effort vector step failures, by sub-step.",
		}, []string{"stage"}), // embed, vector_put, vector_query

		ToolCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "honeyagent_tool_calls_total",
			Help: "Capability invocations by agents.",
		}, []string{"capability", "outcome"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "honeyagent_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"dependency"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "honeyagent_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
