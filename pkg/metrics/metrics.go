// Package metrics exposes the protocol-health counters needed to observe
// voice sessions. Business analytics on sessions are out of scope.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	// Protocol health
	FramesTotal         *prometheus.CounterVec
	ProtocolErrorsTotal *prometheus.CounterVec
	UnknownFramesTotal  prometheus.Counter

	// Session lifecycle
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	// Reconnection
	ReconnectsTotal          prometheus.Counter
	ReconnectFailuresTotal   prometheus.Counter
	ReconnectExhaustionTotal prometheus.Counter

	// Duplicate-response defenses
	DuplicateFinalsDropped    prometheus.Counter
	ResponseCreateSuppressed  prometheus.Counter
	ResponseCancelNoops       prometheus.Counter

	// Audio
	AudioBytesSentTotal prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxorder"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Inbound protocol frames by type.",
			},
			[]string{"type"},
		),
		ProtocolErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_errors_total",
				Help:      "Protocol errors by code.",
			},
			[]string{"code"},
		),
		UnknownFramesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_frames_total",
				Help:      "Inbound frames with an unrecognized type.",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Currently connected voice sessions.",
			},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Sessions by terminal outcome.",
			},
			[]string{"outcome"},
		),
		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Successful reconnections.",
			},
		),
		ReconnectFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_failures_total",
				Help:      "Failed reconnect attempts.",
			},
		),
		ReconnectExhaustionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_exhaustion_total",
				Help:      "Sessions that exhausted the reconnect attempt cap.",
			},
		),
		DuplicateFinalsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_finals_dropped_total",
				Help:      "Transcript finalizations dropped by the dedup guards.",
			},
		),
		ResponseCreateSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_create_suppressed_total",
				Help:      "response.create requests suppressed by the single-flight guard.",
			},
		),
		ResponseCancelNoops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_cancel_noops_total",
				Help:      "response.cancel requests issued with no response in flight.",
			},
		),
		AudioBytesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_sent_total",
				Help:      "Captured audio bytes transmitted.",
			},
		),
	}

	registry.MustRegister(
		m.FramesTotal,
		m.ProtocolErrorsTotal,
		m.UnknownFramesTotal,
		m.SessionsActive,
		m.SessionsTotal,
		m.ReconnectsTotal,
		m.ReconnectFailuresTotal,
		m.ReconnectExhaustionTotal,
		m.DuplicateFinalsDropped,
		m.ResponseCreateSuppressed,
		m.ResponseCancelNoops,
		m.AudioBytesSentTotal,
	)
	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
