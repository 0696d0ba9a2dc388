package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for signaling messages that were not routed anywhere.
const (
	DropReasonRateLimited        = "rate_limited"
	DropReasonTooLarge           = "too_large"
	DropReasonNonText            = "non_text"
	DropReasonInvalid            = "invalid"
	DropReasonMissingClientID    = "missing_client_session_id"
	DropReasonViewerGone         = "viewer_gone"
	DropReasonSendFailed         = "send_failed"
	DropReasonHandlerPanic       = "handler_panic"
	DropReasonUnknownMessageType = "unknown_type"
)

const namespace = "camera_relay"

// Metrics holds the Prometheus collectors for the relay process.
//
// A nil *Metrics is valid and records nothing, which keeps call sites in
// tests free of setup.
type Metrics struct {
	registry *prometheus.Registry

	sessions     prometheus.Gauge
	bindings     prometheus.Gauge
	messages     *prometheus.CounterVec
	forwarded    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	errorReplies *prometheus.CounterVec
	health       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_sessions",
			Help:      "Number of open signaling sessions.",
		}),
		bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_bindings",
			Help:      "Number of streams currently bound to a gateway session.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_messages_total",
			Help:      "Inbound signaling messages by type.",
		}, []string{"type"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_forwarded_total",
			Help:      "Signaling messages delivered to a peer, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_dropped_total",
			Help:      "Signaling messages dropped without delivery, by reason.",
		}, []string{"reason"}),
		errorReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_error_replies_total",
			Help:      "Error replies sent to signaling peers, by code.",
		}, []string{"code"}),
		health: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_health_checks_total",
			Help:      "Stream health classifications, by state and reason.",
		}, []string{"state", "reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
	}

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.sessions,
		m.bindings,
		m.messages,
		m.forwarded,
		m.dropped,
		m.errorReplies,
		m.health,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Dropped returns the drop counter for reason, mainly for tests. A nil
// Metrics returns an unregistered counter.
func (m *Metrics) Dropped(reason string) prometheus.Counter {
	if m == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "signaling_dropped_total",
			ConstLabels: prometheus.Labels{"reason": reason},
		})
	}
	return m.dropped.WithLabelValues(reason)
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) SetBindings(n int) {
	if m == nil {
		return
	}
	m.bindings.Set(float64(n))
}

func (m *Metrics) IncMessage(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncForwarded(msgType string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncErrorReply(code string) {
	if m == nil {
		return
	}
	m.errorReplies.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveHealth(state, reason string) {
	if m == nil {
		return
	}
	m.health.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) IncHTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
